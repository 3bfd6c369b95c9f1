package controller

import "fmt"

// CommandKind enumerates what control surfaces can ask for.
type CommandKind int

const (
	CmdSelect CommandKind = iota
	CmdResume
	CmdToggleUI
	CmdReload
	CmdShutdown
)

func (k CommandKind) String() string {
	switch k {
	case CmdSelect:
		return "select"
	case CmdResume:
		return "resume"
	case CmdToggleUI:
		return "toggle-ui"
	case CmdReload:
		return "reload"
	case CmdShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is an input event from a key press, the HTTP API or a signal.
type Command struct {
	Kind  CommandKind
	Scene string // CmdSelect only
}

func Select(name string) Command { return Command{Kind: CmdSelect, Scene: name} }
func Resume() Command            { return Command{Kind: CmdResume} }
func ToggleUI() Command          { return Command{Kind: CmdToggleUI} }
func Reload() Command            { return Command{Kind: CmdReload} }
func Shutdown() Command          { return Command{Kind: CmdShutdown} }
