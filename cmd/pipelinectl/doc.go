// Command pipelinectl is the operator CLI for the media pipeline: it applies
// migrations, inspects jobs and review tasks, runs queue maintenance by hand
// and mints bearer tokens for the HTTP API.
package main
