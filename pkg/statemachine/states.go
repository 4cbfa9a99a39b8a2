package statemachine

// EmulatorState is the lifecycle of the emulator process.
type EmulatorState int

const (
	EmulatorClosed EmulatorState = iota
	EmulatorLoading
	EmulatorReady
)

func (s EmulatorState) String() string {
	switch s {
	case EmulatorClosed:
		return "CLOSED"
	case EmulatorLoading:
		return "LOADING"
	case EmulatorReady:
		return "READY"
	}
	return "UNKNOWN"
}

// EmulatorTransitions allows LOADING -> CLOSED so a stuck emulator can be
// killed while it loads.
func EmulatorTransitions() map[EmulatorState][]EmulatorState {
	return map[EmulatorState][]EmulatorState{
		EmulatorClosed:  {EmulatorLoading},
		EmulatorLoading: {EmulatorReady, EmulatorClosed},
		EmulatorReady:   {EmulatorClosed},
	}
}

func NewEmulator() *StateMachine[EmulatorState] {
	return New(EmulatorClosed, EmulatorTransitions())
}

// AppState is the lifecycle of an app inside the emulator.
type AppState int

const (
	AppClosed AppState = iota
	AppLoading
	AppReady
)

func (s AppState) String() string {
	switch s {
	case AppClosed:
		return "CLOSED"
	case AppLoading:
		return "LOADING"
	case AppReady:
		return "READY"
	}
	return "UNKNOWN"
}

func AppTransitions() map[AppState][]AppState {
	return map[AppState][]AppState{
		AppClosed:  {AppLoading},
		AppLoading: {AppReady, AppClosed},
		AppReady:   {AppClosed},
	}
}

func NewApp() *StateMachine[AppState] {
	return New(AppClosed, AppTransitions())
}
