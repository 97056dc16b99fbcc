package settings

import (
	"fmt"
	"os"
	"strings"

	"trackq/internal/runstore"
)

// The tracker GUI writes Windows paths into basic TOML strings without
// escaping the backslashes. Forward slashes are valid on every platform.
var pathFixer = strings.NewReplacer(`\\`, "/", `\`, "/")

type FixResult struct {
	Scanned int      `json:"scanned"`
	Changed []string `json:"changed"`
}

// FixPaths rewrites every document whose text contains backslashes.
// Running it twice changes nothing the second time.
func FixPaths(paths []string) (FixResult, error) {
	res := FixResult{Changed: []string{}}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return res, fmt.Errorf("read settings %s: %w", p, err)
		}
		res.Scanned++
		fixed := FixText(string(data))
		if fixed == string(data) {
			continue
		}
		if err := runstore.WriteBytes(p, []byte(fixed)); err != nil {
			return res, err
		}
		res.Changed = append(res.Changed, p)
	}
	return res, nil
}

func FixText(s string) string {
	return pathFixer.Replace(s)
}
