package genflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/stores"
)

// Agent couples a Pipeline with a tool set and a system instruction. It runs
// generations and executes the function calls the model makes, but leaves
// the call/response loop to the caller (or to a session controller).
type Agent struct {
	Pipeline          *Pipeline
	Tools             []models.FunctionDeclaration
	SystemInstruction string
}

func Create_Agent(provider Provider, tools []models.FunctionDeclaration) *Agent {
	return &Agent{
		Pipeline: NewPipeline(provider, nil),
		Tools:    tools,
	}
}

// Create_Agent_From_Config builds an agent and its backing store from a
// session configuration.
func Create_Agent_From_Config(config *SessionConfig) (*Agent, stores.MessageStore, error) {
	tools, err := Create_Tools(config.Tools)
	if err != nil {
		return nil, nil, err
	}
	agent := &Agent{
		Pipeline: NewPipeline(config.Provider, config.Pipeline),
		Tools:    tools,
	}
	return agent, config.Store, nil
}

// WithSystemInstruction sets the system instruction sent on every request.
func (agent *Agent) WithSystemInstruction(instruction string) *Agent {
	agent.SystemInstruction = instruction
	return agent
}

// WithPipelineConfig replaces the agent's pipeline configuration.
func (agent *Agent) WithPipelineConfig(config *PipelineConfig) *Agent {
	agent.Pipeline = NewPipeline(agent.Pipeline.Provider(), config)
	return agent
}

// Create_Tool builds a FunctionDeclaration for a tool function with the
// signature func(string) (string, error). The declaration's name comes from
// the function's Go name; its single parameter is exposed as "input".
func Create_Tool(fn interface{}, description string) (models.FunctionDeclaration, error) {
	fnValue := reflect.ValueOf(fn)
	if fnValue.Kind() != reflect.Func {
		return models.FunctionDeclaration{}, errors.New("input must be a function")
	}
	if err := validateToolSignature(fnValue.Type()); err != nil {
		return models.FunctionDeclaration{}, err
	}

	fullName := runtime.FuncForPC(fnValue.Pointer()).Name()
	funcName := fullName
	if lastDot := strings.LastIndex(fullName, "."); lastDot != -1 {
		funcName = fullName[lastDot+1:]
	}

	return models.FunctionDeclaration{
		Name:        funcName,
		Description: description,
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"input": map[string]interface{}{
					"type":        "string",
					"description": "Input for " + funcName,
				},
			},
			Required: []string{"input"},
		},
		Callable: fn,
	}, nil
}

// Create_Tools builds declarations for a list of tool functions.
func Create_Tools(fns []interface{}) ([]models.FunctionDeclaration, error) {
	tools := []models.FunctionDeclaration{}
	for _, fn := range fns {
		tool, err := Create_Tool(fn, "")
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func validateToolSignature(t reflect.Type) error {
	if !(t.NumIn() == 1 && t.In(0).Kind() == reflect.String &&
		t.NumOut() == 2 && t.Out(0).Kind() == reflect.String &&
		t.Out(1).Implements(reflect.TypeOf((*error)(nil)).Elem())) {
		return errors.New("tool function must have signature func(string) (string, error)")
	}
	return nil
}

// request assembles the canonical request for this agent.
func (agent *Agent) request(contents []models.Content) *models.Generate_Request {
	return &models.Generate_Request{
		Contents:          contents,
		SystemInstruction: agent.SystemInstruction,
		Tools:             agent.Tools,
	}
}

// Run executes one non-streaming generation over the given conversation.
func (agent *Agent) Run(ctx context.Context, contents []models.Content) (*models.Generate_Response, error) {
	return agent.Pipeline.Execute(ctx, agent.request(contents))
}

// Run_Stream executes one streaming generation over the given conversation.
func (agent *Agent) Run_Stream(ctx context.Context, contents []models.Content) (<-chan *models.Generate_Response, <-chan error) {
	return agent.Pipeline.ExecuteStream(ctx, agent.request(contents))
}

// ExecuteTool runs a named tool with the arguments the model produced and
// returns the tool output as a JSON string. Execution failures are folded
// into the JSON (as {"error": ...}) so they can be sent back to the model,
// and also returned as the error.
func (agent *Agent) ExecuteTool(functionName string, args map[string]interface{}) (string, error) {
	var tool *models.FunctionDeclaration
	for i := range agent.Tools {
		if agent.Tools[i].Name == functionName {
			tool = &agent.Tools[i]
			break
		}
	}

	var resultJSON string
	var execErr error

	switch {
	case tool == nil:
		execErr = fmt.Errorf("unknown or unavailable tool: %s", functionName)
	case tool.Callable == nil:
		execErr = fmt.Errorf("tool '%s' has no callable attached", functionName)
	default:
		resultJSON, execErr = callTool(tool, args)
	}

	if execErr != nil {
		errorBytes, _ := json.Marshal(map[string]string{"error": execErr.Error()})
		resultJSON = string(errorBytes)
	}
	return resultJSON, execErr
}

func callTool(tool *models.FunctionDeclaration, args map[string]interface{}) (string, error) {
	fnValue := reflect.ValueOf(tool.Callable)
	if fnValue.Kind() != reflect.Func {
		return "", fmt.Errorf("internal error: tool '%s' is not callable", tool.Name)
	}
	if err := validateToolSignature(fnValue.Type()); err != nil {
		return "", fmt.Errorf("internal error: tool '%s': %w", tool.Name, err)
	}

	stringArg, err := singleStringArg(tool.Name, args)
	if err != nil {
		return "", err
	}

	results := fnValue.Call([]reflect.Value{reflect.ValueOf(stringArg)})
	if errResult := results[1].Interface(); errResult != nil {
		execErr, ok := errResult.(error)
		if !ok {
			return "", fmt.Errorf("internal error: tool '%s' returned invalid error type", tool.Name)
		}
		return "", execErr
	}

	output := results[0].Interface().(string)
	resultBytes, err := json.Marshal(map[string]string{"result": output})
	if err != nil {
		return "", fmt.Errorf("failed to marshal result for '%s': %w", tool.Name, err)
	}
	return string(resultBytes), nil
}

// singleStringArg extracts the one string argument from the model's args
// map, regardless of which property name the model used.
func singleStringArg(toolName string, args map[string]interface{}) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("tool '%s' expects 1 argument from model, got %d args: %v", toolName, len(args), args)
	}
	for name, value := range args {
		str, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("invalid argument type for '%s': expected string for arg '%s', got %T", toolName, name, value)
		}
		return str, nil
	}
	return "", fmt.Errorf("tool '%s' received no arguments", toolName)
}

// ApproveTool checks if a tool should be auto-approved
func (agent *Agent) ApproveTool(name string, args map[string]interface{}) (bool, error) {
	return Tool_Approver(name, args)
}
