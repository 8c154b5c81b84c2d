// Package server exposes the engine over HTTP: an operator-facing dispatch
// surface that builds the root ActionContext for each request and routes it
// into the executor or the flow engine. It stands in for the platform
// gateway, which in production feeds the same entry points.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowbotio/flowbot/botspec"
	"github.com/flowbotio/flowbot/runtime"
)

// Server wires HTTP routes to the execution core.
type Server struct {
	l      *slog.Logger
	deps   *runtime.Deps
	exec   *runtime.Executor
	engine *runtime.FlowEngine
	spec   *botspec.BotSpec
}

func New(l *slog.Logger, deps *runtime.Deps, exec *runtime.Executor, engine *runtime.FlowEngine, spec *botspec.BotSpec) *Server {
	if l == nil {
		l = slog.Default()
	}
	return &Server{l: l, deps: deps, exec: exec, engine: engine, spec: spec}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", s.health)
	v1 := g.Group("/v1")
	v1.GET("/actions", s.listActions)
	v1.GET("/flows", s.listFlows)
	v1.POST("/flows/:name", s.runFlow)
	v1.POST("/sequences", s.runSequence)
	v1.POST("/commands/:name", s.runCommand)
	v1.POST("/events/:name", s.fireEvent)
	return g
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": s.deps.Registry.Names()})
}

func (s *Server) listFlows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flows": s.engine.Names()})
}

// dispatchRequest is the shared request envelope: who triggered the
// execution, plus the operation-specific payload.
type dispatchRequest struct {
	GuildID   string         `json:"guild_id"`
	ChannelID string         `json:"channel_id"`
	UserID    string         `json:"user_id"`
	Args      map[string]any `json:"args"`
	Actions   []any          `json:"actions"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) newContext(c *gin.Context, req dispatchRequest) *runtime.ActionContext {
	return runtime.NewActionContext(c.Request.Context(), req.GuildID, req.ChannelID, req.UserID, s.deps)
}

func (s *Server) runFlow(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	actx := s.newContext(c, req)
	result, err := s.engine.Execute(actx, name, req.Args)
	if err != nil {
		s.fail(c, actx, "flow execution failed", "flow", name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": actx.ID,
		"value":        result.Value,
		"results":      result.Results,
	})
}

func (s *Server) runSequence(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actions, err := runtime.CoerceActions(req.Actions)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actx := s.newContext(c, req)
	results, err := s.exec.ExecuteSequence(actx, actions)
	if err != nil {
		s.fail(c, actx, "sequence execution failed", "actions", len(actions), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": actx.ID,
		"results":      results,
	})
}

func (s *Server) runCommand(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	cmd, ok := s.spec.Command(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown command: " + name})
		return
	}

	args, err := runtime.BindParameters("command "+name, cmd.Parameters, req.Args)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actx := s.newContext(c, req)
	actx.BindArgs(args)
	results, err := s.exec.ExecuteSequence(actx, cmd.Actions)
	if err != nil {
		s.fail(c, actx, "command execution failed", "command", name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": actx.ID,
		"results":      results,
	})
}

func (s *Server) fireEvent(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	bindings := s.spec.EventBindings(name)

	fired := 0
	var all []runtime.ActionResult
	for _, b := range bindings {
		actx := s.newContext(c, req)
		if err := actx.Set("event", req.Payload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		ok, err := runtime.EvaluateCondition(actx, s.deps.Evaluator, b.When)
		if err != nil {
			s.fail(c, actx, "event condition failed", "event", name, err)
			return
		}
		if !ok {
			continue
		}

		fired++
		results, err := s.exec.ExecuteSequence(actx, b.Actions)
		all = append(all, results...)
		if err != nil {
			s.fail(c, actx, "event execution failed", "event", name, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"bindings": len(bindings),
		"fired":    fired,
		"results":  all,
	})
}

// fail logs the error and maps fatal engine codes onto HTTP statuses.
func (s *Server) fail(c *gin.Context, actx *runtime.ActionContext, msg string, key string, val any, err error) {
	s.l.ErrorContext(actx, msg, key, val, "error", err)

	status := http.StatusInternalServerError
	switch {
	case runtime.IsCode(err, runtime.ErrCodeFlowNotFound),
		runtime.IsCode(err, runtime.ErrCodeActionNotFound):
		status = http.StatusNotFound
	case runtime.IsCode(err, runtime.ErrCodeMissingParameter):
		status = http.StatusBadRequest
	case runtime.IsCode(err, runtime.ErrCodeLimitExceeded),
		runtime.IsCode(err, runtime.ErrCodeDepthExceeded),
		runtime.IsCode(err, runtime.ErrCodeIterationLimit):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"execution_id": actx.ID, "error": err.Error()})
}
