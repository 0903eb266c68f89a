// Package openapi emits the OpenAPI 3.0 document describing the Ingress
// API's HTTP surface, for the `openapi` CLI command.
package openapi

const Document = `openapi: 3.0.3
info:
  title: scheduler
  description: Durable, database-backed message scheduler.
  version: "1.0.0"
paths:
  /healthz:
    get:
      summary: Health and diagnostic counts.
      responses:
        "200":
          description: OK
  /v1/schedules:
    post:
      summary: Submit a schedule request.
      security:
        - basicAuth: []
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: "#/components/schemas/ScheduleRequest"
      responses:
        "201":
          description: Created
        "400":
          description: Validation error
        "401":
          description: Missing or invalid basic auth
        "409":
          description: Duplicate task instance
        "500":
          description: Store failure
  /v1/tasks/{taskName}/{taskInstance}:
    get:
      summary: Fetch a task's current state.
      security:
        - basicAuth: []
      parameters:
        - name: taskName
          in: path
          required: true
          schema: { type: string }
        - name: taskInstance
          in: path
          required: true
          schema: { type: string }
      responses:
        "200":
          description: OK
        "401":
          description: Missing or invalid basic auth
        "404":
          description: Task not found
components:
  securitySchemes:
    basicAuth:
      type: http
      scheme: basic
  schemas:
    Schedule:
      type: object
      properties:
        type:
          type: string
          enum: [one-time, cron, fixed-delay, daily]
        executionTime:
          type: integer
          format: int64
          description: epoch millis, one-time only
        expression:
          type: string
          description: cron expression
        delaySeconds:
          type: integer
        hour:
          type: integer
        minute:
          type: integer
        initialExecutionTime:
          type: integer
          format: int64
    Payload:
      type: object
      required: [data]
      properties:
        data:
          type: string
          format: byte
        attributes:
          type: object
          additionalProperties:
            type: string
    ScheduleRequest:
      type: object
      required: [schedule, targetTopic, payload]
      properties:
        schedule:
          $ref: "#/components/schemas/Schedule"
        targetTopic:
          type: string
        payload:
          $ref: "#/components/schemas/Payload"
        taskName:
          type: string
`
