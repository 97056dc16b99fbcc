package settings

import (
	"regexp"
	"strings"
)

var (
	reCompactDatetime = regexp.MustCompile(`(\d{4})(\d{2})(\d{2})[_\-T](\d{2})(\d{2})(\d{2})`)
	reDashedDatetime  = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})[_ T](\d{2})[-:.](\d{2})[-:.](\d{2})`)
	rePartToken       = regexp.MustCompile(`(?i)(?:^|[_\-. ])(?:part|p)[_\-]?(\d+)$`)
	reTrailingNumber  = regexp.MustCompile(`[_\-](\d{1,3})$`)
)

// VideoInfo holds the sortable fields derived from a video name.
type VideoInfo struct {
	Datetime string
	Part     string
}

// ParseVideoName extracts a recording datetime (normalized to
// YYYY-MM-DDTHH:MM:SS) and a part number. Unparsable fields stay empty.
func ParseVideoName(name string) VideoInfo {
	name = strings.TrimSpace(name)
	info := VideoInfo{}
	rest := name

	for _, re := range []*regexp.Regexp{reDashedDatetime, reCompactDatetime} {
		loc := re.FindStringSubmatchIndex(name)
		if loc == nil {
			continue
		}
		m := re.FindStringSubmatch(name)
		info.Datetime = m[1] + "-" + m[2] + "-" + m[3] + "T" + m[4] + ":" + m[5] + ":" + m[6]
		rest = name[:loc[0]] + name[loc[1]:]
		break
	}

	if m := rePartToken.FindStringSubmatch(rest); len(m) > 1 {
		info.Part = m[1]
	} else if m := reTrailingNumber.FindStringSubmatch(rest); len(m) > 1 {
		info.Part = m[1]
	}
	return info
}
