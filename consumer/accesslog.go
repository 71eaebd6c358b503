package consumer

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/glimte/fleck-go/contracts"
	"github.com/glimte/fleck-go/messaging"
)

// effectiveStatus is the status reported in the access log: 406 for
// rejected requests, 503 when the reply could not be sent
func effectiveStatus(req *Request, channelClosed bool) int {
	if req.rejected || req.response.rejected {
		return contracts.StatusNotAcceptable
	}
	if channelClosed {
		return contracts.StatusServiceUnavailable
	}
	return req.response.Status
}

// accessLogLevel picks error for 5xx, warn for 4xx and deprecated responses
func accessLogLevel(status int, deprecated bool) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400 || deprecated:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// formatAccessLog renders
//
//	<ip> <app_id> => ("<exchange>"|<type>|<queue>) #<id> "<action> /<version>" <status> (<ms>ms)[ DEPRECATED]
func formatAccessLog(cfg Config, req *Request, status int) string {
	var b strings.Builder

	b.WriteString(req.ip)
	b.WriteByte(' ')
	b.WriteString(req.appID)
	b.WriteString(" => (")
	b.WriteString(strconv.Quote(cfg.ExchangeName))
	b.WriteByte('|')
	b.WriteString(messaging.ExchangeTypeCode(cfg.ExchangeType))
	b.WriteByte('|')
	b.WriteString(cfg.Queue)
	b.WriteString(") ")

	fmt.Fprintf(&b, "#%s \"%s /%s\" %d ", req.id, req.action, req.versionOrDefault(), status)
	fmt.Fprintf(&b, "(%sms)", strconv.FormatFloat(req.ExecutionTime(), 'f', -1, 64))

	if req.response.deprecated {
		b.WriteString(" DEPRECATED")
	}
	return b.String()
}

func (c *Consumer) logRequest(req *Request, status int) {
	level := accessLogLevel(status, req.response.deprecated)
	c.logger.Log(c.ctx, level, formatAccessLog(c.def.config, req, status))
}
