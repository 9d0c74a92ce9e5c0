// Package clierror provides structured error handling for CLI commands.
//
// CLI errors include an exit code, user-facing message, and optional
// troubleshooting hints. This separates internal error details from
// what gets displayed to operators. FromError maps errors surfaced by
// the token and request layers onto the CLI taxonomy.
package clierror
