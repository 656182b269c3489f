// Package docs registers the OpenAPI description of the ledger API with swag.
// It mirrors the @-annotations in internal/handlers and cmd/server; regenerate
// with `swag init -g cmd/server/main.go` after changing them.
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
    "paths": {
        "/accounts/{accountId}/deposits": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Credits the account against the system cash account. Retries with the same Idempotency-Key replay the first result.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["postings"],
                "summary": "Deposit into an account",
                "parameters": [
                    {"type": "integer", "description": "Account ID", "name": "accountId", "in": "path", "required": true},
                    {"type": "string", "description": "Client idempotency key (max 128 chars)", "name": "Idempotency-Key", "in": "header", "required": true},
                    {"description": "Deposit amount and description", "name": "deposit", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.movementRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.PostingResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/accounts/{accountId}/withdrawals": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Debits the account against the system cash account. A refusal is recorded as a FAILED transaction.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["postings"],
                "summary": "Withdraw from an account",
                "parameters": [
                    {"type": "integer", "description": "Account ID", "name": "accountId", "in": "path", "required": true},
                    {"type": "string", "description": "Client idempotency key (max 128 chars)", "name": "Idempotency-Key", "in": "header", "required": true},
                    {"description": "Withdrawal amount and description", "name": "withdrawal", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.movementRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.PostingResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transfers": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Moves money between two customer accounts in one balanced posting",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["postings"],
                "summary": "Transfer between accounts",
                "parameters": [
                    {"type": "string", "description": "Client idempotency key (max 128 chars)", "name": "Idempotency-Key", "in": "header", "required": true},
                    {"description": "Transfer data", "name": "transfer", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.transferRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.PostingResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transactions/{txId}/reversal": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Posts the mirror entries of a completed transaction and marks it REVERSED",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["postings"],
                "summary": "Reverse a transaction",
                "parameters": [
                    {"type": "integer", "description": "Transaction ID", "name": "txId", "in": "path", "required": true},
                    {"description": "Reversal reason", "name": "reversal", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.reversalRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.PostingResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/reconciliation/rebuild": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Recomputes every materialized balance from the journal",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Rebuild all balances",
                "parameters": [
                    {"description": "Business date stamped on rebuilt balances", "name": "rebuild", "in": "body", "schema": {"$ref": "#/definitions/handlers.rebuildRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.RebuildSummary"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/reconciliation/accounts/{accountId}/rebuild": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Rebuild one balance",
                "parameters": [
                    {"type": "integer", "description": "Account ID", "name": "accountId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.RebuildResult"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/reconciliation/double-entry": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Verify double entry",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.DoubleEntryReport"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/reconciliation/balance-integrity": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Verify balance integrity",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.IntegrityReport"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/interest/accruals": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["interest"],
                "summary": "Accrue daily interest",
                "parameters": [
                    {"description": "Business date", "name": "accrual", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.accrualRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/interest/postings": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["interest"],
                "summary": "Post monthly interest",
                "parameters": [
                    {"description": "Any date in the month to post", "name": "posting", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.interestPostingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.InterestPostingSummary"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/fraud/transactions/{txId}/evaluate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["fraud"],
                "summary": "Score a transaction for fraud",
                "parameters": [
                    {"type": "integer", "description": "Transaction ID", "name": "txId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.FraudResult"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/fraud/items/{itemId}/decision": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["fraud"],
                "summary": "Decide a fraud review item",
                "parameters": [
                    {"type": "integer", "description": "Fraud queue item ID", "name": "itemId", "in": "path", "required": true},
                    {"description": "APPROVE, BLOCK or ESCALATE", "name": "decision", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.decisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.FraudQueueItem"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "kind": {"type": "string"},
                "transactionId": {"type": "integer"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.movementRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "string", "example": "500.25"},
                "description": {"type": "string", "maxLength": 255}
            }
        },
        "handlers.transferRequest": {
            "type": "object",
            "required": ["fromAccountId", "toAccountId"],
            "properties": {
                "fromAccountId": {"type": "integer"},
                "toAccountId": {"type": "integer"},
                "amount": {"type": "string", "example": "50.00"},
                "description": {"type": "string", "maxLength": 255}
            }
        },
        "handlers.reversalRequest": {
            "type": "object",
            "required": ["reason"],
            "properties": {
                "reason": {"type": "string", "maxLength": 255}
            }
        },
        "handlers.rebuildRequest": {
            "type": "object",
            "properties": {
                "asOf": {"type": "string", "example": "2026-03-15"}
            }
        },
        "handlers.accrualRequest": {
            "type": "object",
            "required": ["date"],
            "properties": {
                "date": {"type": "string", "example": "2026-03-14"}
            }
        },
        "handlers.interestPostingRequest": {
            "type": "object",
            "required": ["period"],
            "properties": {
                "period": {"type": "string", "example": "2026-03-01"}
            }
        },
        "handlers.decisionRequest": {
            "type": "object",
            "required": ["decision"],
            "properties": {
                "decision": {"type": "string", "enum": ["APPROVE", "BLOCK", "ESCALATE"]},
                "notes": {"type": "string", "maxLength": 1000}
            }
        },
        "services.PostingResult": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "integer"},
                "reference": {"type": "string"},
                "status": {"type": "string"},
                "message": {"type": "string"},
                "errorKind": {"type": "string"}
            }
        },
        "services.RebuildResult": {
            "type": "object",
            "properties": {
                "accountId": {"type": "integer"},
                "oldBalance": {"type": "string"},
                "newBalance": {"type": "string"}
            }
        },
        "services.RebuildSummary": {
            "type": "object",
            "properties": {
                "accountsRefreshed": {"type": "integer"},
                "driftedAccounts": {"type": "array", "items": {"type": "integer"}},
                "status": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "services.Discrepancy": {
            "type": "object",
            "properties": {
                "accountId": {"type": "integer"},
                "materialized": {"type": "string"},
                "computed": {"type": "string"},
                "difference": {"type": "string"}
            }
        },
        "services.IntegrityReport": {
            "type": "object",
            "properties": {
                "valid": {"type": "boolean"},
                "discrepancies": {"type": "array", "items": {"$ref": "#/definitions/services.Discrepancy"}}
            }
        },
        "services.DoubleEntryReport": {
            "type": "object",
            "properties": {
                "valid": {"type": "boolean"},
                "totalCredits": {"type": "string"},
                "totalDebits": {"type": "string"},
                "discrepancy": {"type": "string"},
                "unbalancedTransactions": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "services.InterestPostingSummary": {
            "type": "object",
            "properties": {
                "postedAmount": {"type": "string"},
                "count": {"type": "integer"},
                "accounts": {"type": "integer"}
            }
        },
        "services.RuleHit": {
            "type": "object",
            "properties": {
                "rule": {"type": "string"},
                "score": {"type": "integer"},
                "severity": {"type": "string"},
                "detail": {"type": "string"}
            }
        },
        "services.FraudResult": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "integer"},
                "score": {"type": "integer"},
                "severity": {"type": "string"},
                "triggeredRules": {"type": "array", "items": {"$ref": "#/definitions/services.RuleHit"}},
                "queued": {"type": "boolean"},
                "queueItemId": {"type": "integer"}
            }
        },
        "models.FraudQueueItem": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "transaction_id": {"type": "integer"},
                "customer_id": {"type": "integer"},
                "rule_triggered": {"type": "string"},
                "severity": {"type": "string"},
                "fraud_score": {"type": "integer"},
                "status": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true},
                "review_notes": {"type": "string"},
                "decided_by": {"type": "string"},
                "decided_at": {"type": "string", "format": "date-time"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Ledger API",
	Description:      "Double-entry ledger: postings, reversals, reconciliation, interest and fraud review",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
