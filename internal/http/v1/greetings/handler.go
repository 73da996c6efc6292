package greetings

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// Register wires greeting routes into the provided API router.
func Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-greeting",
		Method:      http.MethodGet,
		Path:        "/greetings",
		Summary:     "Get a greeting",
		Description: "Returns a fixed greeting message. Query parameters and request bodies are ignored.",
		Tags:        []string{"Greetings"},
	}, getHandler)

	// HEAD answers with the GET headers; net/http drops the body.
	huma.Register(api, huma.Operation{
		OperationID: "head-greeting",
		Method:      http.MethodHead,
		Path:        "/greetings",
		Summary:     "Get greeting headers",
		Tags:        []string{"Greetings"},
	}, getHandler)
}

func getHandler(_ context.Context, _ *struct{}) (*GetOutput, error) {
	return &GetOutput{Body: Data{Message: Message}}, nil
}
