package dt

import "sync"

// UniqueStrings interns strings and assigns them stable ids in insertion
// order. Id 0 stands for the empty string, so encoded streams can use it to
// mark an inline string.
type UniqueStrings struct {
	mu   sync.RWMutex
	ids  map[string]uint32
	strs []string
}

func NewUniqueStrings() *UniqueStrings {
	return &UniqueStrings{
		ids:  make(map[string]uint32),
		strs: []string{""},
	}
}

// Intern returns the canonical copy of s.
func (u *UniqueStrings) Intern(s string) string {
	return u.Get(u.Add(s))
}

// Add registers s and returns its id.
func (u *UniqueStrings) Add(s string) uint32 {
	if s == "" {
		return 0
	}
	u.mu.RLock()
	id, ok := u.ids[s]
	u.mu.RUnlock()
	if ok {
		return id
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if id, ok := u.ids[s]; ok {
		return id
	}
	id = uint32(len(u.strs))
	u.strs = append(u.strs, s)
	u.ids[s] = id
	return id
}

// ID returns the id of s if it was added.
func (u *UniqueStrings) ID(s string) (uint32, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.ids[s]
	return id, ok
}

// Get returns the string with the given id, or "" for unknown ids.
func (u *UniqueStrings) Get(id uint32) string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if int(id) >= len(u.strs) {
		return ""
	}
	return u.strs[id]
}

func (u *UniqueStrings) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.strs) - 1
}
