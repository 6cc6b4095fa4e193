package orm

import "sync"

// booted records the boot state of every schema that has been used. Like the
// macro table it is process-wide.
var booted = struct {
	sync.Mutex
	m map[*Schema]*bootState
}{m: make(map[*Schema]*bootState)}

type bootState struct {
	// done is closed once Boot has returned and its registrations are
	// visible on the schema.
	done chan struct{}

	// What Boot registered, so ResetBootState can take back exactly that.
	scopesBefore []namedScope
	scopeIDs     []string
	hookRanges   map[Event][2]int
}

// bootIfNotBooted runs s.Boot the first time the schema is used. Concurrent
// first uses wait until Boot has returned.
//
// Boot runs against a staging copy of the schema whose registrations are
// published when Boot returns. Queries the copy starts from inside Boot see
// the scopes registered so far and don't boot again.
func (s *Schema) bootIfNotBooted() {
	if s.booting {
		return
	}

	booted.Lock()
	st, ok := booted.m[s]
	if !ok {
		st = &bootState{done: make(chan struct{})}
		booted.m[s] = st
	}
	booted.Unlock()

	if ok {
		<-st.done
		return
	}
	s.runBoot(st)
}

func (s *Schema) runBoot(st *bootState) {
	defer close(st.done)
	if s.Boot == nil {
		return
	}

	staging := *s
	staging.booting = true
	staging.bootScopeIDs = nil
	staging.globalScopes = append([]namedScope(nil), s.globalScopes...)
	staging.hooks = copyHooks(s.hooks)

	s.Boot(&staging)

	st.scopesBefore = s.globalScopes
	st.scopeIDs = staging.bootScopeIDs
	st.hookRanges = make(map[Event][2]int)
	for event, hooks := range staging.hooks {
		if from := len(s.hooks[event]); len(hooks) > from {
			st.hookRanges[event] = [2]int{from, len(hooks)}
		}
	}
	s.globalScopes = staging.globalScopes
	s.hooks = staging.hooks
}

// undo removes what Boot registered on s. Scopes Boot replaced get their
// previous body back; hooks registered after boot are kept.
func (st *bootState) undo(s *Schema) {
	for _, id := range st.scopeIDs {
		prev, existed := findScope(st.scopesBefore, id)
		for i := range s.globalScopes {
			if s.globalScopes[i].id != id {
				continue
			}
			if existed {
				s.globalScopes[i].scope = prev
			} else {
				s.globalScopes = append(s.globalScopes[:i:i], s.globalScopes[i+1:]...)
			}
			break
		}
	}
	for event, r := range st.hookRanges {
		hooks := s.hooks[event]
		if r[1] > len(hooks) {
			continue
		}
		s.hooks[event] = append(hooks[:r[0]:r[0]], hooks[r[1]:]...)
	}
}

func findScope(scopes []namedScope, id string) (Scope, bool) {
	for _, ns := range scopes {
		if ns.id == id {
			return ns.scope, true
		}
	}
	return nil, false
}

func copyHooks(hooks map[Event][]Hook) map[Event][]Hook {
	if hooks == nil {
		return nil
	}
	out := make(map[Event][]Hook, len(hooks))
	for event, hs := range hooks {
		out[event] = append([]Hook(nil), hs...)
	}
	return out
}

// IsBooted reports whether Boot has run and returned for s.
func (s *Schema) IsBooted() bool {
	booted.Lock()
	st, ok := booted.m[s]
	booted.Unlock()
	if !ok {
		return false
	}
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

// ResetBootState forgets every boot flag and takes back the global scopes and
// hooks registered from Boot, so the next use boots again. Scopes and hooks
// registered outside Boot stay. Meant for test isolation.
func ResetBootState() {
	booted.Lock()
	states := booted.m
	booted.m = make(map[*Schema]*bootState)
	booted.Unlock()

	for s, st := range states {
		<-st.done
		st.undo(s)
	}
}
