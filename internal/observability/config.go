package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EnablePprofTrace mounts the pprof and trace handlers under
	// /debug/pprof/ on the service mux.
	EnablePprofTrace bool
}
