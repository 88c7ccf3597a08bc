package invalidation

import (
	"sync"
)

// Tracker maintains a directed key→key dependency graph with a reverse
// index. dependents is always the exact transpose of dependencies:
// every edge mutation updates both maps under the tracker's lock.
type Tracker struct {
	mu           sync.Mutex
	dependencies map[string]map[string]struct{} // key -> keys it depends on
	dependents   map[string]map[string]struct{} // key -> keys depending on it
}

// NewTracker creates an empty dependency tracker
func NewTracker() *Tracker {
	return &Tracker{
		dependencies: make(map[string]map[string]struct{}),
		dependents:   make(map[string]map[string]struct{}),
	}
}

// AddDependency records that key depends on dependsOn
func (t *Tracker) AddDependency(key, dependsOn string) {
	if key == dependsOn {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dependencies[key] == nil {
		t.dependencies[key] = make(map[string]struct{})
	}
	t.dependencies[key][dependsOn] = struct{}{}

	if t.dependents[dependsOn] == nil {
		t.dependents[dependsOn] = make(map[string]struct{})
	}
	t.dependents[dependsOn][key] = struct{}{}
}

// RemoveDependency removes a single edge
func (t *Tracker) RemoveDependency(key, dependsOn string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.dependencies[key], dependsOn)
	if len(t.dependencies[key]) == 0 {
		delete(t.dependencies, key)
	}
	delete(t.dependents[dependsOn], key)
	if len(t.dependents[dependsOn]) == 0 {
		delete(t.dependents, dependsOn)
	}
}

// RemoveKey removes a key and every edge touching it
func (t *Tracker) RemoveKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for dependsOn := range t.dependencies[key] {
		delete(t.dependents[dependsOn], key)
		if len(t.dependents[dependsOn]) == 0 {
			delete(t.dependents, dependsOn)
		}
	}
	delete(t.dependencies, key)

	for dependent := range t.dependents[key] {
		delete(t.dependencies[dependent], key)
		if len(t.dependencies[dependent]) == 0 {
			delete(t.dependencies, dependent)
		}
	}
	delete(t.dependents, key)
}

// DependenciesOf returns the keys that key directly depends on
func (t *Tracker) DependenciesOf(key string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return setToSlice(t.dependencies[key])
}

// DependentsOf returns the keys depending on key. With recursive=false
// only direct dependents are returned; recursive=true walks the full
// transitive closure breadth-first.
func (t *Tracker) DependentsOf(key string, recursive bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !recursive {
		return setToSlice(t.dependents[key])
	}

	visited := map[string]struct{}{key: {}}
	var result []string
	queue := []string{key}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for dependent := range t.dependents[current] {
			if _, seen := visited[dependent]; seen {
				continue
			}
			visited[dependent] = struct{}{}
			result = append(result, dependent)
			queue = append(queue, dependent)
		}
	}
	return result
}

func setToSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	result := make([]string, 0, len(set))
	for key := range set {
		result = append(result, key)
	}
	return result
}
