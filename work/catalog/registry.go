package catalog

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// personaState is a lazily initialized persona plus its pacing limiter.
// A persona whose initialization failed is kept in the registry marked
// unusable so the fallback loop skips it without retrying initialization
// on every request.
type personaState struct {
	persona Persona
	limiter ratelimit.Limiter
	initErr error
}

func (s *personaState) usable() bool { return s.initErr == nil }

// Registry is the process-scoped persona cache. Initialization happens at
// most once per persona name regardless of how many requests race on a cold
// start, and each persona gets its own rate limiter so pacing one identity
// never stalls another.
type Registry struct {
	states      *xsync.MapOf[string, *personaState]
	callsPerSec int
}

// NewRegistry creates a persona registry. callsPerSec bounds metadata calls
// per persona per second; the upstream is rate sensitive, so the default
// configuration keeps at least 500ms between calls on the same identity.
func NewRegistry(callsPerSec int) *Registry {
	if callsPerSec <= 0 {
		callsPerSec = 2
	}
	return &Registry{
		states:      xsync.NewMapOf[string, *personaState](),
		callsPerSec: callsPerSec,
	}
}

// acquire returns the state for a persona name, initializing it on first
// use. Initialization failure is recorded, not returned: the caller checks
// usable() and moves on to the next persona.
func (r *Registry) acquire(name string) *personaState {
	state, _ := r.states.LoadOrCompute(name, func() *personaState {
		persona, ok := personaByName(name)
		if !ok {
			return &personaState{initErr: fmt.Errorf("unknown persona %q", name)}
		}
		if persona.Host == "" || persona.APIKey == "" {
			return &personaState{
				persona: persona,
				initErr: fmt.Errorf("persona %q has no host or api key", name),
			}
		}
		return &personaState{
			persona: persona,
			limiter: ratelimit.New(r.callsPerSec),
		}
	})
	return state
}

// pace blocks until the persona's limiter permits another call.
func (s *personaState) pace() {
	s.limiter.Take()
}
