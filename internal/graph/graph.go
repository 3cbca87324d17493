package graph

import (
	"fmt"

	"podfleet/internal/models"
)

/**
 * Dependency graph over named nodes
 * @description
 * - An edge node→dep means "node depends on dep, dep must come first"
 * - Node insertion order is remembered so ties among independent nodes
 *   are broken by declaration order and output is reproducible
 */
type Graph struct {
	scope string
	names []string
	index map[string]int
	deps  map[string][]string
}

// New 创建一个空依赖图，scope用于错误信息（pod名或"fleet"）
func New(scope string) *Graph {
	return &Graph{
		scope: scope,
		index: make(map[string]int),
		deps:  make(map[string][]string),
	}
}

// AddNode registers a node. Re-adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if _, exist := g.index[name]; exist {
		return
	}
	g.index[name] = len(g.names)
	g.names = append(g.names, name)
}

// AddDependency declares that node depends on dep. Both must be registered.
func (g *Graph) AddDependency(node, dep string) error {
	if _, exist := g.index[node]; !exist {
		return fmt.Errorf("%s: unknown node %q", g.scope, node)
	}
	if _, exist := g.index[dep]; !exist {
		return fmt.Errorf("%s: %s depends on unknown node %q", g.scope, node, dep)
	}
	if node == dep {
		return fmt.Errorf("%s: %s depends on itself", g.scope, node)
	}
	g.deps[node] = append(g.deps[node], dep)
	return nil
}

// Dependencies 返回节点声明的直接依赖
func (g *Graph) Dependencies(node string) []string {
	return g.deps[node]
}

/**
 * Compute a topological start order: every dependency before its dependents
 * @returns {[]string} Start order, stable across runs with the same input
 * @returns {error} *models.CyclicDependencyError naming the cycle members if no order exists
 * @description
 * - Kahn's algorithm; among ready nodes the one declared first wins,
 *   so independent siblings keep their declaration order
 */
func (g *Graph) TopoOrder() ([]string, error) {
	pending := make(map[string]int, len(g.names))
	for _, name := range g.names {
		pending[name] = len(g.deps[name])
	}

	order := make([]string, 0, len(g.names))
	emitted := make(map[string]bool, len(g.names))

	for len(order) < len(g.names) {
		progressed := false
		// 按声明顺序扫描，取第一个依赖已全部就绪的节点
		for _, name := range g.names {
			if emitted[name] || pending[name] != 0 {
				continue
			}
			order = append(order, name)
			emitted[name] = true
			progressed = true
			for _, other := range g.names {
				if emitted[other] {
					continue
				}
				for _, dep := range g.deps[other] {
					if dep == name {
						pending[other]--
					}
				}
			}
			break
		}
		if !progressed {
			return nil, &models.CyclicDependencyError{
				Scope:   g.scope,
				Members: g.cycleMembers(emitted),
			}
		}
	}
	return order, nil
}

/**
 * Group nodes by dependency depth
 * @returns {[][]string} layers[0] has no dependencies; nodes inside one layer are
 *                       independent of each other and may be acted on concurrently
 * @description
 * - Teardown walks the layers in reverse, stopping each layer's nodes concurrently
 */
func (g *Graph) Layers() ([][]string, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, name := range order {
		d := 0
		for _, dep := range g.deps[name] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]string, maxDepth+1)
	for _, name := range g.names {
		d := depth[name]
		layers[d] = append(layers[d], name)
	}
	return layers, nil
}

// cycleMembers 提取环上的节点：反复剥离没有剩余节点依赖它的节点，剩下的就是环
func (g *Graph) cycleMembers(emitted map[string]bool) []string {
	remaining := make(map[string]bool)
	for _, name := range g.names {
		if !emitted[name] {
			remaining[name] = true
		}
	}

	for {
		var leaf string
		for _, name := range g.names {
			if !remaining[name] {
				continue
			}
			dependedOn := false
			for other := range remaining {
				for _, dep := range g.deps[other] {
					if dep == name {
						dependedOn = true
						break
					}
				}
				if dependedOn {
					break
				}
			}
			if !dependedOn {
				leaf = name
				break
			}
		}
		if leaf == "" {
			break
		}
		delete(remaining, leaf)
	}

	var members []string
	for _, name := range g.names {
		if remaining[name] {
			members = append(members, name)
		}
	}
	return members
}

// Reverse 返回顺序的逆序副本，用于teardown
func Reverse(order []string) []string {
	reversed := make([]string, len(order))
	for i, name := range order {
		reversed[len(order)-1-i] = name
	}
	return reversed
}
