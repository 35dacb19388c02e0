package directory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/worktime-engine/worktime"
)

// Memory is an in-process Directory.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemory(users ...User) *Memory {
	m := &Memory{users: make(map[string]User)}
	for _, u := range users {
		m.users[u.ID] = cloneUser(u)
	}
	return m
}

func (m *Memory) FindUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, worktime.NotFound("user", id)
	}
	return cloneUser(u), nil
}

// ListUsersByRole pages through users carrying role, ordered by username.
// Pages are zero-based.
func (m *Memory) ListUsersByRole(_ context.Context, role string, page, size int) ([]User, error) {
	if page < 0 || size <= 0 {
		return nil, worktime.Invalid("page", "page must be >= 0 and size > 0")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []User
	for _, u := range m.users {
		if role == "" || u.HasRole(role) {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Username != matched[j].Username {
			return matched[i].Username < matched[j].Username
		}
		return matched[i].ID < matched[j].ID
	})

	from := page * size
	if from >= len(matched) {
		return []User{}, nil
	}
	to := min(from+size, len(matched))
	out := make([]User, 0, to-from)
	for _, u := range matched[from:to] {
		out = append(out, cloneUser(u))
	}
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, u User) (User, error) {
	if u.Username == "" {
		return User{}, worktime.Invalid("username", "required")
	}
	if err := ValidateAttributes(u.Attributes); err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return User{}, worktime.Invalid("username", "already taken")
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Attributes == nil {
		u.Attributes = make(map[string][]string)
	}
	m.users[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (m *Memory) SetAttributes(_ context.Context, id string, attrs map[string][]string) (User, error) {
	if err := ValidateAttributes(attrs); err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, worktime.NotFound("user", id)
	}
	u = cloneUser(u)
	for k, v := range attrs {
		if len(v) == 0 {
			delete(u.Attributes, k)
			continue
		}
		u.Attributes[k] = slices.Clone(v)
	}
	m.users[id] = u
	return cloneUser(u), nil
}

func cloneUser(u User) User {
	u.Roles = slices.Clone(u.Roles)
	attrs := make(map[string][]string, len(u.Attributes))
	for k, v := range u.Attributes {
		attrs[k] = slices.Clone(v)
	}
	u.Attributes = attrs
	return u
}

var _ Directory = (*Memory)(nil)
