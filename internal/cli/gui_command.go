package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trackq/internal/config"
	"trackq/internal/discovery"
	"trackq/internal/tracker"
)

type pickerMode int

const (
	pickerModeBrowse pickerMode = iota
	pickerModeNewFolder
)

type pickerModel struct {
	dir     string
	entries []string
	cursor  int
	width   int
	height  int
	mode    pickerMode
	input   textinput.Model

	statusMessage string
	chosen        string
	cancelled     bool
	fatalErr      error
}

type pickerLoadedMsg struct {
	dir     string
	entries []string
	err     error
}

type pickerCreatedMsg struct {
	dir string
	err error
}

var (
	pickerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pickerMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pickerErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	pickerOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pickerPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	pickerSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func newGUICmd(root *rootOptions) *cobra.Command {
	var (
		start    string
		noLaunch bool
	)
	cmd := &cobra.Command{
		Use:   "gui",
		Short: "Pick a project folder, prepare it and open the tracker GUI",
		Long: `Choose a project folder in a terminal browser, create the trackq layout
(settings/, sessions/, logs/ and trackq.yaml) where missing, then open the
idtracker.ai window inside the settings directory.

With --workspace the picker is skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(root.workspace) == "" {
				if !stdinIsTTY() {
					return errors.New("gui requires an interactive terminal (TTY) or --workspace")
				}
				dir, err := pickFolder(start)
				if err != nil {
					return err
				}
				if dir == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "gui: cancelled")
					return nil
				}
				root.workspace = dir
			}

			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			body, err := config.DefaultFile()
			if err != nil {
				return err
			}
			configPath := defaultIfEmpty(cfg.ConfigFile, filepath.Join(cfg.Workspace, config.DefaultConfigName))
			res, err := discovery.Scaffold(discovery.ScaffoldOptions{
				Workspace:   cfg.Workspace,
				SettingsDir: cfg.SettingsDir,
				OutputRoot:  cfg.OutputRoot,
				LogsDir:     cfg.LogsDir,
				ConfigPath:  configPath,
				ConfigBody:  body,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, kv("workspace", res.Workspace))
			for _, d := range res.CreatedDirs {
				fmt.Fprintln(out, kv("created", d))
			}
			if res.CreatedConfig {
				fmt.Fprintln(out, kv("config", configPath))
			}
			if noLaunch {
				return nil
			}

			client := tracker.NewClient(cfg.Tracker.Binary)
			if err := client.CheckDependencies(); err != nil {
				return err
			}
			logger.Info("launching tracker gui",
				zap.String("binary", cfg.Tracker.Binary),
				zap.String("dir", cfg.SettingsDir),
			)
			fmt.Fprintf(out, "opening %s in %s (close the window to return)\n", cfg.Tracker.Binary, cfg.SettingsDir)
			return client.LaunchGUI(cmd.Context(), cfg.SettingsDir, out, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "folder the picker opens in (default: current directory)")
	cmd.Flags().BoolVar(&noLaunch, "no-launch", false, "prepare the folder without opening the tracker")
	return cmd
}

// pickFolder runs the picker and returns the chosen folder, or "" when the
// user quit without choosing.
func pickFolder(start string) (string, error) {
	dir, err := filepath.Abs(defaultIfEmpty(start, "."))
	if err != nil {
		return "", err
	}
	p := tea.NewProgram(newPickerModel(dir), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return "", errors.New("gui requires an interactive terminal (TTY)")
		}
		return "", err
	}
	fm, ok := final.(pickerModel)
	if !ok {
		return "", nil
	}
	if fm.fatalErr != nil {
		return "", fm.fatalErr
	}
	if fm.cancelled {
		return "", nil
	}
	return fm.chosen, nil
}

func newPickerModel(dir string) pickerModel {
	in := textinput.New()
	in.Placeholder = "new-project"
	in.CharLimit = 255
	in.Width = 40
	return pickerModel{dir: dir, input: in}
}

func (m pickerModel) Init() tea.Cmd {
	return loadFolderCmd(m.dir)
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = clampInt(msg.Width-12, 20, 80)
		return m, nil
	case pickerLoadedMsg:
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
			return m, nil
		}
		m.dir = msg.dir
		m.entries = msg.entries
		m.cursor = clampInt(m.cursor, 0, maxInt(len(m.entries)-1, 0))
		return m, nil
	case pickerCreatedMsg:
		m.mode = pickerModeBrowse
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
			return m, nil
		}
		m.statusMessage = "created " + filepath.Base(msg.dir)
		m.cursor = 0
		return m, loadFolderCmd(msg.dir)
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch m.mode {
	case pickerModeNewFolder:
		return m.updateNewFolder(keyMsg)
	default:
		return m.updateBrowse(keyMsg)
	}
}

func (m pickerModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.cancelled = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
		return m, nil
	case "enter", "right", "l":
		if len(m.entries) == 0 {
			m.statusMessage = "no sub-folders here"
			return m, nil
		}
		next := filepath.Join(m.dir, m.entries[m.cursor])
		m.cursor = 0
		m.statusMessage = ""
		return m, loadFolderCmd(next)
	case "backspace", "left", "h":
		parent := filepath.Dir(m.dir)
		if parent == m.dir {
			return m, nil
		}
		m.cursor = 0
		m.statusMessage = ""
		return m, loadFolderCmd(parent)
	case "n":
		m.mode = pickerModeNewFolder
		m.input.SetValue("")
		m.statusMessage = ""
		cmd := m.input.Focus()
		return m, cmd
	case "s", " ":
		m.chosen = m.dir
		return m, tea.Quit
	}
	return m, nil
}

func (m pickerModel) updateNewFolder(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.mode = pickerModeBrowse
		m.input.Blur()
		m.statusMessage = "new folder cancelled"
		return m, nil
	case "enter":
		name := strings.TrimSpace(m.input.Value())
		if err := validateFolderName(name); err != nil {
			m.statusMessage = "error: " + err.Error()
			return m, nil
		}
		m.input.Blur()
		return m, createFolderCmd(filepath.Join(m.dir, name))
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	if m.fatalErr != nil {
		return pickerErrorStyle.Render("fatal: " + m.fatalErr.Error())
	}
	width := m.width
	if width <= 0 {
		width = 100
	}
	height := m.height
	if height <= 0 {
		height = 30
	}

	var b strings.Builder
	b.WriteString(pickerTitleStyle.Render("trackq · choose a project folder"))
	b.WriteString("\n")
	b.WriteString(pickerMutedStyle.Render(wrapOrTrim(m.dir, width-4)))
	b.WriteString("\n\n")

	var rows []string
	if len(m.entries) == 0 {
		rows = append(rows, pickerMutedStyle.Render("(no sub-folders)"))
	}
	start, end := listWindow(len(m.entries), m.cursor, maxInt(height-12, 5))
	for i := start; i < end; i++ {
		line := truncateRunes(m.entries[i]+"/", width-10)
		if i == m.cursor {
			rows = append(rows, pickerSelStyle.Render("> "+line))
			continue
		}
		rows = append(rows, "  "+line)
	}
	b.WriteString(pickerPanelStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if m.mode == pickerModeNewFolder {
		b.WriteString("\n" + kv("new folder", m.input.View()) + "\n")
		b.WriteString(pickerMutedStyle.Render("enter create · esc cancel"))
	} else {
		b.WriteString(pickerMutedStyle.Render("↑/↓ move · enter open · ← parent · n new folder · s select this folder · q quit"))
	}
	if m.statusMessage != "" {
		b.WriteString("\n")
		if strings.HasPrefix(m.statusMessage, "error:") {
			b.WriteString(pickerErrorStyle.Render(m.statusMessage))
		} else {
			b.WriteString(pickerOKStyle.Render(m.statusMessage))
		}
	}
	return b.String()
}

func loadFolderCmd(dir string) tea.Cmd {
	return func() tea.Msg {
		entries, err := listFolders(dir)
		return pickerLoadedMsg{dir: dir, entries: entries, err: err}
	}
}

func createFolderCmd(dir string) tea.Cmd {
	return func() tea.Msg {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return pickerCreatedMsg{dir: dir, err: err}
		}
		return pickerCreatedMsg{dir: dir}
	}
}

// listFolders returns the visible sub-directories of dir, sorted.
func listFolders(dir string) ([]string, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !it.IsDir() || strings.HasPrefix(it.Name(), ".") {
			continue
		}
		out = append(out, it.Name())
	}
	slices.Sort(out)
	return out, nil
}

func validateFolderName(name string) error {
	switch {
	case name == "":
		return errors.New("folder name is required")
	case name == "." || name == "..":
		return fmt.Errorf("invalid folder name %q", name)
	case strings.ContainsAny(name, `/\`):
		return errors.New("folder name must not contain path separators")
	}
	return nil
}
