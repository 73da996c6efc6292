package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/janisto/greetings-api/internal/http/v1/greetings"
)

// Register wires all HTTP routes into the provided API router.
func Register(api huma.API) {
	greetings.Register(api)
}
