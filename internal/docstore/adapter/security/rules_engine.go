package security

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"habitora-core/internal/docstore/domain/repository"
	apperrors "habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"go.uber.org/zap"
)

// AccessRule declares who may do what on a path pattern. Patterns use
// {variable} segments ("conversations/{conversationId}"); conditions are CEL
// expressions over auth, resource, request, path and variables.
type AccessRule struct {
	Match       string
	Priority    int
	Description string
	Allow       map[repository.OperationType]string
	Deny        map[repository.OperationType]string
}

// compiledRule carries the pre-compiled CEL programs and path regex for one
// rule so evaluation never recompiles.
type compiledRule struct {
	rule          AccessRule
	allowPrograms map[repository.OperationType]cel.Program
	denyPrograms  map[repository.OperationType]cel.Program
	matchRegex    *regexp.Regexp
	variables     []string
}

// RulesEngine evaluates access rules. Rules are fixed at construction; the
// engine is safe for concurrent use. Deny conditions win over allow, and a
// request no rule decides is denied.
type RulesEngine struct {
	rules  []*compiledRule
	celEnv *cel.Env
	log    logger.Logger
}

var _ repository.AccessController = (*RulesEngine)(nil)

func NewRulesEngine(rules []AccessRule, log logger.Logger) (*RulesEngine, error) {
	celEnv, err := createCELEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	engine := &RulesEngine{celEnv: celEnv, log: log}

	sorted := make([]AccessRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	for _, rule := range sorted {
		compiled, err := engine.compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Match, err)
		}
		engine.rules = append(engine.rules, compiled)
	}

	return engine, nil
}

func createCELEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Declarations(
			decls.NewVar("auth", decls.Dyn),
			decls.NewVar("resource", decls.Dyn),
			decls.NewVar("request", decls.Dyn),
			decls.NewVar("path", decls.String),
			decls.NewVar("variables", decls.NewMapType(decls.String, decls.String)),
		),
	)
}

// Authorize implements repository.AccessController.
func (e *RulesEngine) Authorize(ctx context.Context, req repository.AccessRequest) error {
	for _, rule := range e.rules {
		if !rule.matchRegex.MatchString(req.Path) {
			continue
		}

		variables := rule.extractVariables(req.Path)
		vars := buildEvalVars(req, variables)

		// Deny wins over allow
		if program, ok := rule.denyPrograms[req.Operation]; ok {
			denied, err := evaluate(program, vars)
			if err != nil {
				e.log.Error("Failed to evaluate deny condition",
					zap.String("rule", rule.rule.Match),
					zap.String("operation", string(req.Operation)),
					zap.Error(err))
				continue
			}
			if denied {
				return e.denied(req, rule.rule.Match, "denied by rule")
			}
		}

		if program, ok := rule.allowPrograms[req.Operation]; ok {
			allowed, err := evaluate(program, vars)
			if err != nil {
				e.log.Error("Failed to evaluate allow condition",
					zap.String("rule", rule.rule.Match),
					zap.String("operation", string(req.Operation)),
					zap.Error(err))
				continue
			}
			if allowed {
				return nil
			}
		}
	}

	return e.denied(req, "", "no matching allow rule")
}

func (e *RulesEngine) denied(req repository.AccessRequest, ruleMatch, reason string) error {
	uid := ""
	if req.Principal != nil {
		uid = req.Principal.UID
	}
	err := apperrors.NewPermissionDeniedError(fmt.Sprintf("%s on %s: %s", req.Operation, req.Path, reason)).
		WithDetail("operation", string(req.Operation)).
		WithDetail("path", req.Path)
	if ruleMatch != "" {
		err = err.WithDetail("rule", ruleMatch)
	}
	if uid != "" {
		err = err.WithDetail("uid", uid)
	}
	return err
}

func (e *RulesEngine) compileRule(rule AccessRule) (*compiledRule, error) {
	matchRegex, variables, err := compileMatchPattern(rule.Match)
	if err != nil {
		return nil, err
	}

	compiled := &compiledRule{
		rule:          rule,
		allowPrograms: make(map[repository.OperationType]cel.Program),
		denyPrograms:  make(map[repository.OperationType]cel.Program),
		matchRegex:    matchRegex,
		variables:     variables,
	}

	for op, condition := range rule.Allow {
		program, err := e.compileCondition(condition)
		if err != nil {
			return nil, fmt.Errorf("allow condition for %s: %w", op, err)
		}
		compiled.allowPrograms[op] = program
	}
	for op, condition := range rule.Deny {
		program, err := e.compileCondition(condition)
		if err != nil {
			return nil, fmt.Errorf("deny condition for %s: %w", op, err)
		}
		compiled.denyPrograms[op] = program
	}

	return compiled, nil
}

func (e *RulesEngine) compileCondition(expression string) (cel.Program, error) {
	ast, issues := e.celEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	program, err := e.celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// compileMatchPattern converts a path pattern into a regex with named capture
// groups and returns the variable names it binds.
func compileMatchPattern(pattern string) (*regexp.Regexp, []string, error) {
	if pattern == "" {
		return nil, nil, fmt.Errorf("match pattern cannot be empty")
	}

	varRegex := regexp.MustCompile(`\{([^}]+)\}`)
	matches := varRegex.FindAllStringSubmatch(pattern, -1)
	variables := make([]string, len(matches))
	for i, match := range matches {
		variables[i] = match[1]
	}

	regexPattern := regexp.QuoteMeta(pattern)
	regexPattern = regexp.MustCompile(`\\\{([^}]+)\\\}`).ReplaceAllString(regexPattern, `(?P<$1>[^/]+)`)
	regexPattern = "^" + regexPattern + "$"

	compiled, err := regexp.Compile(regexPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile match pattern: %w", err)
	}
	return compiled, variables, nil
}

func (r *compiledRule) extractVariables(path string) map[string]string {
	variables := make(map[string]string)
	matches := r.matchRegex.FindStringSubmatch(path)
	if matches == nil {
		return variables
	}
	for i, name := range r.matchRegex.SubexpNames() {
		if i != 0 && name != "" && i < len(matches) {
			variables[name] = matches[i]
		}
	}
	return variables
}

func buildEvalVars(req repository.AccessRequest, variables map[string]string) map[string]interface{} {
	vars := map[string]interface{}{
		"resource":  req.Resource,
		"request":   req.NewData,
		"path":      req.Path,
		"variables": variables,
	}

	if req.Principal != nil {
		auth := map[string]interface{}{"uid": req.Principal.UID}
		if req.Principal.Email != "" {
			auth["email"] = req.Principal.Email
		}
		if req.Principal.Role != "" {
			auth["role"] = req.Principal.Role
		}
		vars["auth"] = auth
	} else {
		vars["auth"] = nil
	}
	return vars
}

func evaluate(program cel.Program, vars map[string]interface{}) (bool, error) {
	out, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to a boolean")
	}
	return result, nil
}
