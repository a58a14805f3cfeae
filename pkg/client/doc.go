/*
Package client provides a Go client library for the fleet REST API.

The client package wraps the HTTP API with typed methods for bot lifecycle
operations, feature configuration, job triggers, and fleet status. It is
used by the fleet CLI and can be imported by other programs that manage a
fleet daemon.

# Usage

	c := client.NewClient("localhost:8080")
	bot, err := c.CreateBot("owner-1", "12345:token")
	if err != nil {
		return err
	}
	bots, err := c.ListBots("")

Errors from the daemon carry the server-side message and the HTTP status:

	if err := c.PauseBot(id); err != nil {
		// "bot is deleted (HTTP 410)"
	}
*/
package client
