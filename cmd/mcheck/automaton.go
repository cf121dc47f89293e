package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dpor-mc/mc/pkg/checker"
)

// automatonFile is the on-disk shape of a compiled property automaton:
// the LTL-to-Büchi translation itself is treated as opaque upstream
// tooling, so mcheck only ever consumes the already-compiled states,
// transitions, and propositional literals a translator (e.g. spot's
// ltl2tgba) would emit in this shape.
type automatonFile struct {
	States []struct {
		ID        string `yaml:"id"`
		Initial   bool   `yaml:"initial"`
		Accepting bool   `yaml:"accepting"`
	} `yaml:"states"`
	Edges []struct {
		From  string   `yaml:"from"`
		To    string   `yaml:"to"`
		Label []string `yaml:"label"`
	} `yaml:"edges"`
}

// loadAutomaton reads path and compiles it into a checker.Automaton
// plus the list of every atomic proposition its edge labels reference.
//
// Each edge's Label is a disjunction of clauses, "&&"-separated
// literals within a clause, "||"-separated clauses between them, and a
// literal is a proposition name optionally prefixed with "!". An empty
// Label is the unconditional (always-true) transition.
func loadAutomaton(path string) (*checker.Automaton, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("mcheck: reading property file %s: %w", path, err)
	}
	var af automatonFile
	if err := yaml.Unmarshal(raw, &af); err != nil {
		return nil, nil, fmt.Errorf("mcheck: parsing property file %s: %w", path, err)
	}

	automaton := &checker.Automaton{Edges: make(map[string][]checker.AutomatonTransition)}
	seenProp := make(map[string]bool)

	for _, s := range af.States {
		automaton.States = append(automaton.States, checker.AutomatonState{
			ID: s.ID, Initial: s.Initial, Accepting: s.Accepting,
		})
	}

	for _, e := range af.Edges {
		clauses, props, err := compileClauses(e.Label)
		if err != nil {
			return nil, nil, fmt.Errorf("mcheck: property file %s, edge %s->%s: %w", path, e.From, e.To, err)
		}
		for _, p := range props {
			seenProp[p] = true
		}
		to := e.To
		automaton.Edges[e.From] = append(automaton.Edges[e.From], checker.AutomatonTransition{
			To:    to,
			Label: func(values map[string]bool) bool { return evalClauses(clauses, values) },
		})
	}

	names := make([]string, 0, len(seenProp))
	for p := range seenProp {
		names = append(names, p)
	}
	return automaton, names, nil
}

type literal struct {
	name    string
	negated bool
}

func compileClauses(label []string) ([][]literal, []string, error) {
	if len(label) == 0 {
		return nil, nil, nil
	}
	var clauses [][]literal
	var props []string
	for _, raw := range label {
		for _, disjunct := range strings.Split(raw, "||") {
			var clause []literal
			for _, term := range strings.Split(disjunct, "&&") {
				term = strings.TrimSpace(term)
				if term == "" {
					continue
				}
				lit := literal{name: term}
				if strings.HasPrefix(term, "!") {
					lit.negated = true
					lit.name = strings.TrimSpace(term[1:])
				}
				if lit.name == "" {
					return nil, nil, fmt.Errorf("empty literal in clause %q", raw)
				}
				clause = append(clause, lit)
				props = append(props, lit.name)
			}
			if len(clause) > 0 {
				clauses = append(clauses, clause)
			}
		}
	}
	return clauses, props, nil
}

// evalClauses is true, the unconditional transition, when clauses is
// nil.
func evalClauses(clauses [][]literal, values map[string]bool) bool {
	if clauses == nil {
		return true
	}
	for _, clause := range clauses {
		allTrue := true
		for _, lit := range clause {
			v := values[lit.name]
			if lit.negated {
				v = !v
			}
			if !v {
				allTrue = false
				break
			}
		}
		if allTrue {
			return true
		}
	}
	return false
}
