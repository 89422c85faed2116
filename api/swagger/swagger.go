package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "XP Ledger API",
        "description": "Append-only experience ledger with request validation, levels, badges and leaderboard",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "XP Requests", "description": "Claim submission and review"},
        {"name": "Ledger", "description": "Progression, history, grants and audit"},
        {"name": "Badges", "description": "Badge catalogue and awards"},
        {"name": "Leaderboard", "description": "Ranking by total XP"}
    ],
    "paths": {
        "/xp-requests": {
            "post": {
                "tags": ["XP Requests"],
                "summary": "Submit an XP request",
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitXPRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid amount or payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/xp-requests/pending": {
            "get": {
                "tags": ["XP Requests"],
                "summary": "List pending requests",
                "parameters": [
                    {"name": "userId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Reviewer role required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/xp-requests/{id}": {
            "get": {
                "tags": ["XP Requests"],
                "summary": "Get a request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/xp-requests/{id}/decision": {
            "post": {
                "tags": ["XP Requests"],
                "summary": "Approve or reject a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideXPRequest"}}
                ],
                "responses": {
                    "200": {"description": "Decided, meta.already_decided reports a lost race", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Permission denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/progression": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Current progression",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/history": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Ledger entries in append order",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/history/export": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Export ledger history",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/users/{id}/xp": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Grant or correct XP",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GrantXPRequest"}}
                ],
                "responses": {
                    "201": {"description": "Credited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "200": {"description": "Replayed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/daily-login": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Claim the daily login bonus",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Credited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "200": {"description": "Already claimed today", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/audit": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Replay the ledger against the projection",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Consistent", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Inconsistent, report in data", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/badges/evaluate": {
            "post": {
                "tags": ["Badges"],
                "summary": "Evaluate badge conditions",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/badges/{badgeId}": {
            "post": {
                "tags": ["Badges"],
                "summary": "Award a badge manually",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "badgeId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Badges"],
                "summary": "Revoke a badge",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "badgeId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Revoked"},
                    "404": {"description": "Badge not held", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/badges": {
            "get": {
                "tags": ["Badges"],
                "summary": "Badge catalogue",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/leaderboard": {
            "get": {
                "tags": ["Leaderboard"],
                "summary": "Leaderboard page",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/leaderboard/users/{id}": {
            "get": {
                "tags": ["Leaderboard"],
                "summary": "A user's rank",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not ranked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SubmitXPRequest": {
            "type": "object",
            "properties": {
                "xpAmount": {"type": "integer"},
                "reason": {"type": "string"},
                "description": {"type": "string"},
                "evidence": {"type": "string"},
                "idempotencyKey": {"type": "string"}
            },
            "required": ["xpAmount", "reason", "description"]
        },
        "DecideXPRequest": {
            "type": "object",
            "properties": {
                "decision": {"type": "string", "enum": ["approve", "reject"]},
                "feedback": {"type": "string"}
            },
            "required": ["decision"]
        },
        "GrantXPRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "integer"},
                "reason": {"type": "string"},
                "note": {"type": "string"},
                "idempotencyKey": {"type": "string"}
            },
            "required": ["amount", "reason"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
