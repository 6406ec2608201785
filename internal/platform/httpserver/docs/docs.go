// Package docs registers the OpenAPI document served under /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/scholarship/students/pending": {
            "get": {
                "summary": "Preview allocations for the eligible students",
                "parameters": [
                    {"name": "total_fund_usd", "in": "query", "type": "string", "required": false}
                ],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/scholarship/students/recipients": {
            "get": {
                "summary": "Students who received money from distributed batches, with totals",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/scholarship/batch/current": {
            "get": {
                "summary": "Pending batch with approvals and active members, or a preview when none is pending",
                "parameters": [
                    {"name": "batch_id", "in": "query", "type": "integer", "required": false}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Batch not found"}}
            }
        },
        "/scholarship/batches": {
            "post": {
                "summary": "Create the pending batch and persist its allocations",
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateBatchRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Invalid fund"},
                    "409": {"description": "A pending batch already exists"},
                    "422": {"description": "No student holds credits"}
                }
            }
        },
        "/scholarship/batches/{batch_id}/approve": {
            "post": {
                "summary": "Record the caller's approval",
                "parameters": [
                    {"name": "batch_id", "in": "path", "type": "integer", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Batch not found"},
                    "409": {"description": "Already approved or not pending"}
                }
            }
        },
        "/scholarship/batches/{batch_id}/execute": {
            "post": {
                "summary": "Distribute a batch that reached quorum, exactly once",
                "parameters": [
                    {"name": "batch_id", "in": "path", "type": "integer", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Administrators only"},
                    "409": {"description": "Already distributed, not ready, or balances changed"}
                }
            }
        },
        "/scholarship/history": {
            "get": {
                "summary": "Distributed batches, newest first",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer", "required": false},
                    {"name": "offset", "in": "query", "type": "integer", "required": false}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/scholarship/batches/{batch_id}/report": {
            "get": {
                "summary": "Report data for a distributed batch",
                "parameters": [
                    {"name": "batch_id", "in": "path", "type": "integer", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Batch not distributed"}}
            }
        },
        "/scholarship/batches/{batch_id}/comments": {
            "get": {
                "summary": "Comments on a batch",
                "parameters": [
                    {"name": "batch_id", "in": "path", "type": "integer", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "put": {
                "summary": "Save the caller's comment on a pending batch",
                "parameters": [
                    {"name": "batch_id", "in": "path", "type": "integer", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveCommentRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Batch not pending"}}
            }
        },
        "/members": {
            "get": {
                "summary": "Board members who have signed in",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/realtime/poll": {
            "get": {
                "summary": "Long-poll for a change in batch status, approvals or presence",
                "parameters": [
                    {"name": "batch_id", "in": "query", "type": "integer", "required": true},
                    {"name": "last_hash", "in": "query", "type": "string", "required": false},
                    {"name": "timeout", "in": "query", "type": "integer", "required": false, "description": "seconds to hold the request; defaults to the server maximum, 0 answers at once"}
                ],
                "responses": {"200": {"description": "OK"}, "503": {"description": "Poll cancelled, retry"}}
            }
        }
    },
    "definitions": {
        "CreateBatchRequest": {
            "type": "object",
            "properties": {
                "total_fund_usd": {"type": "string", "example": "300.00"},
                "notes": {"type": "string"}
            }
        },
        "SaveCommentRequest": {
            "type": "object",
            "properties": {
                "comment": {"type": "string"},
                "include_in_pdf": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/board/v1",
	Schemes:          []string{},
	Title:            "Scholarship Board API",
	Description:      "Scholarship distribution batches: allocation, approval, execution and live board state.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
