package dag

import (
	"fmt"
	"slices"
	"strings"

	"kiln/internal/diag"
)

// Graph хранит рёбра "зависимость -> зависящий модуль", так что
// NewSchedule выдаёт модули в порядке сборки: сначала зависимости.
type Graph struct {
	Edges   [][]ModuleID // Edges[dep] = []dependents
	Deps    [][]ModuleID // Deps[module] = []dependencies
	Indeg   []int        // число присутствующих зависимостей
	Present []bool       // признак, что модуль реально объявлен (а не только упомянут в depends)
}

// ModuleNode is one declared module and the names it depends on.
type ModuleNode struct {
	Name     string
	Depends  []string
	Manifest string
}

type ModuleSlot struct {
	Node    ModuleNode
	Present bool
}

func BuildGraph(idx ModuleIndex, nodes []ModuleNode, reporter diag.Reporter) (Graph, []ModuleSlot) {
	nodeCount := len(idx.IDToName)
	g := Graph{
		Edges:   make([][]ModuleID, nodeCount),
		Deps:    make([][]ModuleID, nodeCount),
		Indeg:   make([]int, nodeCount),
		Present: make([]bool, nodeCount),
	}
	slots := make([]ModuleSlot, nodeCount)
	for i, name := range idx.IDToName {
		slots[i].Node.Name = name
	}

	for _, node := range nodes {
		if node.Name == "" {
			continue
		}
		id, ok := idx.NameToID[node.Name]
		if !ok {
			// не должно происходить, индекс строится на тех же узлах
			continue
		}
		slot := &slots[int(id)]
		if slot.Present {
			diag.ReportError(reporter, diag.ProjDuplicateModule, diag.Location{Resource: node.Manifest},
				fmt.Sprintf("duplicate module %q", node.Name))
			continue
		}
		slot.Node = node
		slot.Present = true
		g.Present[int(id)] = true
	}

	for from := range slots {
		slot := &slots[from]
		if !slot.Present || len(slot.Node.Depends) == 0 {
			continue
		}
		loc := diag.Location{Resource: slot.Node.Manifest}
		seen := make(map[ModuleID]struct{}, len(slot.Node.Depends))
		for _, dep := range slot.Node.Depends {
			if dep == "" {
				continue
			}
			depID, ok := idx.NameToID[dep]
			if !ok {
				continue
			}
			if ModuleID(from) == depID {
				diag.ReportError(reporter, diag.ProjSelfDependency, loc,
					fmt.Sprintf("module %q depends on itself", slot.Node.Name))
				continue
			}
			if !g.Present[int(depID)] {
				diag.ReportError(reporter, diag.ProjMissingModule, loc,
					fmt.Sprintf("module %q depends on unknown module %q", slot.Node.Name, dep))
				continue
			}
			if _, dup := seen[depID]; dup {
				continue
			}
			seen[depID] = struct{}{}

			g.Edges[int(depID)] = append(g.Edges[int(depID)], ModuleID(from))
			g.Deps[from] = append(g.Deps[from], depID)
			g.Indeg[from]++
		}
		slices.Sort(g.Deps[from])
	}
	for i := range g.Edges {
		if len(g.Edges[i]) > 1 {
			slices.Sort(g.Edges[i])
		}
	}

	return g, slots
}

// ReportCycles reports one error per module the schedule left stuck.
func ReportCycles(idx ModuleIndex, slots []ModuleSlot, s *Schedule, reporter diag.Reporter) {
	if s == nil || !s.Cyclic() {
		return
	}
	summary := strings.Join(idx.Names(s.Stuck), " -> ")

	for _, id := range s.Stuck {
		slot := slots[int(id)]
		if !slot.Present {
			continue
		}
		msg := fmt.Sprintf("module %q participates in a dependency cycle: %s", slot.Node.Name, summary)
		diag.ReportError(reporter, diag.ProjDependencyCycle, diag.Location{Resource: slot.Node.Manifest}, msg)
	}
}

// Dependents returns every module that transitively depends on id.
func (g Graph) Dependents(id ModuleID) []ModuleID {
	visited := make([]bool, len(g.Edges))
	stack := []ModuleID{id}
	var out []ModuleID
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.Edges[int(cur)] {
			if visited[int(next)] {
				continue
			}
			visited[int(next)] = true
			out = append(out, next)
			stack = append(stack, next)
		}
	}
	slices.Sort(out)
	return out
}
