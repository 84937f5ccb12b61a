// Package docs holds the swagger document for the danmud admin API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "AdminToken": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/healthz": {
            "get": {"summary": "Liveness probe", "produces": ["text/plain"], "responses": {"200": {"description": "ok"}}}
        },
        "/readyz": {
            "get": {
                "summary": "Readiness probe",
                "produces": ["text/plain"],
                "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}
            }
        },
        "/status": {
            "get": {
                "summary": "Supervisor status",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/metrics": {
            "get": {"summary": "Prometheus metrics", "produces": ["text/plain"], "responses": {"200": {"description": "OK"}}}
        },
        "/env": {
            "get": {
                "summary": "Current environment snapshot",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EnvResponse"}}}
            },
            "put": {
                "summary": "Replace the whole environment",
                "security": [{"AdminToken": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/types.EnvResponse"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EnvResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/variant": {
            "get": {
                "summary": "Active variant",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.VariantResponse"}}}
            },
            "put": {
                "summary": "Switch the active variant",
                "security": [{"AdminToken": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/types.VariantRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.VariantResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Variant failed to start", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/reload": {
            "post": {
                "summary": "Request a reload of the serving generation",
                "security": [{"AdminToken": []}],
                "produces": ["application/json"],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.ReloadResponse"}}}
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}
        },
        "types.EnvResponse": {
            "type": "object",
            "properties": {
                "env": {"type": "object", "additionalProperties": {"type": "string"}},
                "version": {"type": "integer"}
            }
        },
        "types.VariantRequest": {
            "type": "object",
            "properties": {"variant": {"type": "string", "example": "dev"}}
        },
        "types.VariantResponse": {
            "type": "object",
            "properties": {
                "variant": {"type": "string"},
                "base_dir": {"type": "string"},
                "entry": {"type": "string"},
                "installed": {"type": "array", "items": {"type": "string"}}
            }
        },
        "types.ReloadResponse": {
            "type": "object",
            "properties": {"accepted": {"type": "boolean"}}
        },
        "types.GenerationStatus": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "state": {"type": "string"},
                "variant": {"type": "string"},
                "units": {"type": "integer"},
                "pids": {"type": "array", "items": {"type": "integer"}},
                "inflight": {"type": "integer"},
                "env_version": {"type": "integer"},
                "created_unix": {"type": "integer"},
                "ready_unix": {"type": "integer"}
            }
        },
        "types.ReloadJobStatus": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "generation": {"type": "integer"},
                "reason": {"type": "string"},
                "status": {"type": "string"},
                "error": {"type": "string"},
                "requested_unix": {"type": "integer"},
                "finished_unix": {"type": "integer"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "serving_generation": {"type": "integer"},
                "variant": {"type": "string"},
                "generations": {"type": "array", "items": {"$ref": "#/definitions/types.GenerationStatus"}},
                "last_reload": {"$ref": "#/definitions/types.ReloadJobStatus"},
                "pending_reload": {"$ref": "#/definitions/types.ReloadJobStatus"},
                "reloads_swapped": {"type": "integer"},
                "reloads_failed": {"type": "integer"},
                "reload_pending": {"type": "boolean"},
                "watch_mode": {"type": "string"},
                "env_version": {"type": "integer"},
                "last_error": {"type": "string"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/_danmud",
	Schemes:          []string{"http"},
	Title:            "danmud admin API",
	Description:      "Supervisor API for the danmu JS server: status, environment, variant and reload control.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
