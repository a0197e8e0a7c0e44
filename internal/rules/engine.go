// Package rules turns a stored ExecutionRule into a concrete entity
// selection. Evaluation is read-only; the engine never mutates the store.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/stats"
	"github.com/argos-io/argos/internal/storage"
)

// ChangedFilesVar expands to the caller-supplied changed file list inside a
// rule's groups.
const ChangedFilesVar = "${CHANGED_FILES}"

// Engine errors.
var (
	ErrRuleDisabled    = errors.New("rule is disabled")
	ErrUnknownCriteria = errors.New("unknown rule criteria")
	ErrBadGroupPattern = errors.New("invalid group pattern")
)

type (
	// Engine evaluates rules against stored history.
	Engine struct {
		store *storage.Store
	}

	// Options carries caller-side inputs a single evaluation may need.
	Options struct {
		EntityType   storage.EntityType
		ChangedFiles []string
	}

	// Selection is the evaluation result: the entity ids to execute, ordered
	// by entity id unless the criteria defines its own order, plus filters
	// the runner applies itself.
	Selection struct {
		Rule      string
		EntityIDs []string
		Markers   []string
		Patterns  []string
	}
)

// NewEngine returns an engine reading from the given store.
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// Select evaluates one rule. Disabled rules fail with ErrRuleDisabled so the
// caller can distinguish "nothing matched" from "not evaluated".
func (e *Engine) Select(ctx context.Context, rule *storage.ExecutionRule, opts Options) (*Selection, error) {
	if !rule.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrRuleDisabled, rule.Name)
	}

	entityType := opts.EntityType
	if entityType == "" {
		entityType = storage.EntityTest
	}

	groups, err := compileGroups(expandGroups(rule.Groups, opts.ChangedFiles))
	if err != nil {
		return nil, err
	}

	selection := &Selection{Rule: rule.Name}

	switch rule.Criteria {
	case storage.CriteriaAll:
		selection.EntityIDs, err = e.selectAll(ctx, entityType, groups)
	case storage.CriteriaGroup, storage.CriteriaChangedFiles:
		selection.EntityIDs, err = e.selectByGroups(ctx, entityType, groups)
	case storage.CriteriaFailedInLast:
		selection.EntityIDs, err = e.selectFailedInLast(ctx, entityType, groups, rule.Window)
	case storage.CriteriaFailureRate:
		selection.EntityIDs, err = e.selectByFailureRate(ctx, entityType, groups, rule.Window, rule.Threshold)
	case storage.CriteriaMarker:
		selection.EntityIDs, err = e.selectByGroups(ctx, entityType, groups)
		selection.Markers = markerArgs(rule)
	case storage.CriteriaPattern:
		selection.EntityIDs, err = e.selectByGroups(ctx, entityType, groups)
		selection.Patterns = patternArgs(rule)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCriteria, rule.Criteria)
	}

	if err != nil {
		return nil, err
	}

	return selection, nil
}

// selectAll returns every known entity of the type, narrowed by groups when
// any are configured.
func (e *Engine) selectAll(ctx context.Context, entityType storage.EntityType, groups []glob.Glob) ([]string, error) {
	ids, err := e.store.ListEntityIDs(ctx, entityType)
	if err != nil {
		return nil, err
	}

	if len(groups) == 0 {
		return ids, nil
	}

	return filterByGroups(ids, groups), nil
}

// selectByGroups returns the entities whose id or derived file path matches
// at least one group pattern. With no groups configured nothing matches.
func (e *Engine) selectByGroups(ctx context.Context, entityType storage.EntityType, groups []glob.Glob) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	ids, err := e.store.ListEntityIDs(ctx, entityType)
	if err != nil {
		return nil, err
	}

	return filterByGroups(ids, groups), nil
}

// selectFailedInLast returns the entities whose most recent window rows
// contain at least one failure. Fewer rows than the window means all
// available rows count.
func (e *Engine) selectFailedInLast(ctx context.Context, entityType storage.EntityType, groups []glob.Glob, window int) ([]string, error) {
	candidates, err := e.selectAll(ctx, entityType, groups)
	if err != nil {
		return nil, err
	}

	var selected []string

	for _, id := range candidates {
		rows, err := e.store.GetExecutionHistory(ctx, storage.HistoryFilter{
			EntityID: id,
			Limit:    window,
		})
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			if row.Status.IsFailure() {
				selected = append(selected, id)

				break
			}
		}
	}

	return selected, nil
}

// selectByFailureRate returns the entities whose windowed failure rate
// reaches the threshold, ordered by descending rate, then higher run count,
// then alphabetic.
func (e *Engine) selectByFailureRate(ctx context.Context, entityType storage.EntityType, groups []glob.Glob, window int, threshold float64) ([]string, error) {
	candidates, err := e.selectAll(ctx, entityType, groups)
	if err != nil {
		return nil, err
	}

	type rated struct {
		id   string
		rate float64
		runs int
	}

	var matched []rated

	for _, id := range candidates {
		rows, err := e.store.GetExecutionHistory(ctx, storage.HistoryFilter{
			EntityID: id,
			Limit:    window,
		})
		if err != nil {
			return nil, err
		}

		entityStats := stats.Compute(id, entityType, rows, window)
		if entityStats.TotalRuns == 0 {
			continue
		}

		if entityStats.FailureRate >= threshold {
			matched = append(matched, rated{id: id, rate: entityStats.FailureRate, runs: entityStats.TotalRuns})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].rate != matched[j].rate {
			return matched[i].rate > matched[j].rate
		}

		if matched[i].runs != matched[j].runs {
			return matched[i].runs > matched[j].runs
		}

		return matched[i].id < matched[j].id
	})

	ids := make([]string, 0, len(matched))
	for _, m := range matched {
		ids = append(ids, m.id)
	}

	return ids, nil
}

// expandGroups substitutes ${CHANGED_FILES} with the caller-supplied list.
func expandGroups(groups, changedFiles []string) []string {
	var expanded []string

	for _, group := range groups {
		if strings.TrimSpace(group) == ChangedFilesVar {
			expanded = append(expanded, changedFiles...)

			continue
		}

		expanded = append(expanded, group)
	}

	return expanded
}

// compileGroups compiles glob patterns with "/" as the separator, so "*"
// stays within one path segment and "**" crosses segments.
func compileGroups(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadGroupPattern, pattern, err)
		}

		globs = append(globs, g)
	}

	return globs, nil
}

// filterByGroups keeps the ids whose entity id or derived file path matches
// any group. Input order (alphabetic from the store) is preserved.
func filterByGroups(ids []string, groups []glob.Glob) []string {
	var matched []string

	for _, id := range ids {
		file := parser.NodeIDFile(id)

		for _, g := range groups {
			if g.Match(id) || g.Match(file) {
				matched = append(matched, id)

				break
			}
		}
	}

	return matched
}

func markerArgs(rule *storage.ExecutionRule) []string {
	if m := rule.ExecutorConfig["markers"]; m != "" {
		return strings.Split(m, ",")
	}

	return nil
}

func patternArgs(rule *storage.ExecutionRule) []string {
	if p := rule.ExecutorConfig["patterns"]; p != "" {
		return strings.Split(p, ",")
	}

	return nil
}
