// Package templates holds the HTML partials the console swaps into the page.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/a-h/templ"
)

// StatusBadge renders a session status pill. Persistent badges are marked
// so the page keeps them visible after notices are cleared.
func StatusBadge(sessionID string, badge core.Badge) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		persistent := "false"
		if badge.Persistent {
			persistent = "true"
		}
		_, err := fmt.Fprintf(w,
			`<span id="badge-%s" class="inline-flex items-center px-2.5 py-0.5 rounded-full text-xs font-medium %s" data-persistent="%s">%s</span>`,
			templ.EscapeString(sessionID),
			templ.EscapeString(badge.Class),
			persistent,
			templ.EscapeString(badge.Label),
		)
		return err
	})
}

// ErrorAlert renders a dismissable error box with the user-facing message,
// the suggested action and the error code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w,
			`<div class="rounded-md bg-red-50 p-4" role="alert"><p class="text-sm font-medium text-red-800">%s</p>`,
			templ.EscapeString(message)); err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="mt-1 text-sm text-red-700">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<p class="mt-1 text-xs text-red-500">Code: %s</p></div>`, templ.EscapeString(code))
		return err
	})
}

// Notices renders the view's dismissable notices.
func Notices(sessionID string, notices []core.Notice) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<ul class="space-y-2">`); err != nil {
			return err
		}
		for _, n := range notices {
			class := "bg-blue-50 text-blue-800"
			if n.Level == core.NoticeError {
				class = "bg-red-50 text-red-800"
			}
			if _, err := fmt.Fprintf(w,
				`<li class="rounded-md p-3 text-sm %s" id="notice-%s">%s<button hx-delete="/api/imports/%s/notices/%s" hx-target="closest li" hx-swap="outerHTML" class="ml-2">&times;</button></li>`,
				class,
				templ.EscapeString(n.ID),
				templ.EscapeString(n.Message),
				templ.EscapeString(sessionID),
				templ.EscapeString(n.ID),
			); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul>`)
		return err
	})
}
