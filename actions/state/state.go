// Package state provides the action handlers over the scoped state manager:
// key/value operations and the db_* row-store operations.
package state

import (
	"fmt"

	"github.com/flowbotio/flowbot/runtime"
	"github.com/flowbotio/flowbot/runtime/state"
)

// Handlers returns every state handler for registration.
func Handlers() []runtime.ActionHandler {
	return []runtime.ActionHandler{
		getHandler{},
		setHandler{},
		deleteHandler{},
		counterHandler{name: "state_increment", sign: 1},
		counterHandler{name: "state_decrement", sign: -1},
		insertHandler{},
		updateHandler{},
		deleteRowsHandler{},
		queryHandler{},
	}
}

// Register installs every state handler into the registry.
func Register(r *runtime.Registry) {
	r.RegisterAll(Handlers())
}

func manager(actx *runtime.ActionContext) (state.Manager, error) {
	m := actx.Deps().State
	if m == nil {
		return nil, fmt.Errorf("no state manager configured")
	}
	return m, nil
}

// scopeFrom builds the storage scope from the scope name in config and the
// execution's core identifiers. An absent name means global.
func scopeFrom(actx *runtime.ActionContext, config map[string]any) (state.Scope, error) {
	name, _ := config["scope"].(string)
	switch name {
	case "", "global":
		return state.Scope{}, nil
	case "guild":
		return state.Scope{GuildID: actx.GuildID}, nil
	case "channel":
		return state.Scope{ChannelID: actx.ChannelID}, nil
	case "user":
		return state.Scope{UserID: actx.UserID}, nil
	case "member":
		return state.Scope{GuildID: actx.GuildID, UserID: actx.UserID}, nil
	default:
		return state.Scope{}, fmt.Errorf("unknown scope %q", name)
	}
}

func requireKey(config map[string]any) error {
	if key, _ := config["key"].(string); key == "" {
		return fmt.Errorf("a non-empty 'key' is required")
	}
	return nil
}

func requireTable(config map[string]any) error {
	if table, _ := config["table"].(string); table == "" {
		return fmt.Errorf("a non-empty 'table' is required")
	}
	return nil
}

type getHandler struct{}

func (getHandler) Name() string                         { return "state_get" }
func (getHandler) Validate(config map[string]any) error { return requireKey(config) }

func (getHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}
	scope, err := scopeFrom(actx, config)
	if err != nil {
		return nil, err
	}
	key, _ := config["key"].(string)
	return m.Get(key, scope)
}

type setHandler struct{}

func (setHandler) Name() string                         { return "state_set" }
func (setHandler) Validate(config map[string]any) error { return requireKey(config) }

func (setHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}
	scope, err := scopeFrom(actx, config)
	if err != nil {
		return nil, err
	}

	value, err := runtime.EvalValue(actx, actx.Deps().Evaluator, config["value"])
	if err != nil {
		return nil, err
	}

	key, _ := config["key"].(string)
	if err := m.Set(key, value, scope); err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "value": value}, nil
}

type deleteHandler struct{}

func (deleteHandler) Name() string                         { return "state_delete" }
func (deleteHandler) Validate(config map[string]any) error { return requireKey(config) }

func (deleteHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}
	scope, err := scopeFrom(actx, config)
	if err != nil {
		return nil, err
	}
	key, _ := config["key"].(string)
	if err := m.Delete(key, scope); err != nil {
		return nil, err
	}
	return map[string]any{"key": key}, nil
}

// counterHandler backs state_increment and state_decrement. Deltas go through
// the store's atomic counter operations, never read-modify-write.
type counterHandler struct {
	name string
	sign float64
}

func (h counterHandler) Name() string                         { return h.name }
func (h counterHandler) Validate(config map[string]any) error { return requireKey(config) }

func (h counterHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}
	scope, err := scopeFrom(actx, config)
	if err != nil {
		return nil, err
	}

	amount := 1.0
	if raw, ok := config["amount"]; ok {
		value, err := runtime.EvalValue(actx, actx.Deps().Evaluator, raw)
		if err != nil {
			return nil, err
		}
		amount, err = asFloat(value)
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
	}

	key, _ := config["key"].(string)
	next, err := m.Increment(key, h.sign*amount, scope)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "value": next}, nil
}

type insertHandler struct{}

func (insertHandler) Name() string                         { return "db_insert" }
func (insertHandler) Validate(config map[string]any) error { return requireTable(config) }

func (insertHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}

	row, err := resolveMap(actx, config["row"])
	if err != nil {
		return nil, fmt.Errorf("row: %w", err)
	}

	table, _ := config["table"].(string)
	stored, err := m.Insert(table, row)
	if err != nil {
		return nil, err
	}
	return map[string]any{"row": stored}, nil
}

type updateHandler struct{}

func (updateHandler) Name() string                         { return "db_update" }
func (updateHandler) Validate(config map[string]any) error { return requireTable(config) }

func (updateHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}

	where, err := resolveMap(actx, config["where"])
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	patch, err := resolveMap(actx, config["values"])
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	upsert, _ := config["upsert"].(bool)

	table, _ := config["table"].(string)
	affected, err := m.Update(table, where, patch, upsert)
	if err != nil {
		return nil, err
	}
	return map[string]any{"affected": affected}, nil
}

type deleteRowsHandler struct{}

func (deleteRowsHandler) Name() string                         { return "db_delete" }
func (deleteRowsHandler) Validate(config map[string]any) error { return requireTable(config) }

func (deleteRowsHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}

	where, err := resolveMap(actx, config["where"])
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}

	table, _ := config["table"].(string)
	affected, err := m.DeleteRows(table, where)
	if err != nil {
		return nil, err
	}
	return map[string]any{"affected": affected}, nil
}

type queryConfig struct {
	Table   string   `json:"table"`
	Select  []string `json:"select"`
	OrderBy string   `json:"order_by"`
	Desc    bool     `json:"desc"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

type queryHandler struct{}

func (queryHandler) Name() string                         { return "db_query" }
func (queryHandler) Validate(config map[string]any) error { return requireTable(config) }

func (queryHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	m, err := manager(actx)
	if err != nil {
		return nil, err
	}

	var cfg queryConfig
	if err := runtime.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	where, err := resolveMap(actx, config["where"])
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}

	rows, err := m.Query(cfg.Table, state.Query{
		Where:   where,
		Select:  cfg.Select,
		OrderBy: cfg.OrderBy,
		Desc:    cfg.Desc,
		Limit:   cfg.Limit,
		Offset:  cfg.Offset,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"rows": rows, "count": len(rows)}, nil
}

// resolveMap deep-resolves an optional mapping config value, expanding
// ${ ... } templates in its string values.
func resolveMap(actx *runtime.ActionContext, raw any) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	resolved, err := runtime.ResolveTemplates(actx, actx.Deps().Evaluator, raw)
	if err != nil {
		return nil, err
	}
	m, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", resolved)
	}
	return m, nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
