// Package telegram sends formatted events to a Telegram chat or forum topic.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
	logx "notificationforwarder/pkg/logx"
)

const Name = "telegram"

const textLimit = 4000

// sentOpt records in the event how many chunks of a split message already
// went out, so a retry or a spool flush resumes instead of repeating them.
const sentOpt = "telegram_sent_chunks"

type Forwarder struct {
	opts options.Options
	log  logx.Logger
	bot  *tele.Bot
}

func New(deps forwarder.Deps) (forwarder.Forwarder, error) {
	token, err := deps.Options.Require("token")
	if err != nil {
		return nil, err
	}
	if _, err := deps.Options.Require("chat_id"); err != nil {
		return nil, err
	}
	timeout, err := deps.Options.Duration("timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     deps.Options.String("api_url", ""),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Forwarder{opts: deps.Options, log: deps.Log, bot: b}, nil
}

func (f *Forwarder) Submit(ctx context.Context, ev *event.FormattedEvent) error {
	opts := forwarder.EffectiveOptions(f.opts, ev)
	chatID, err := opts.Int("chat_id", 0)
	if err != nil {
		return err
	}
	threadID, err := opts.Int("thread_id", 0)
	if err != nil {
		return err
	}
	parseMode := opts.String("parse_mode", "")

	text := forwarder.PayloadText(ev.Payload, ev.Summary)
	chat := &tele.Chat{ID: int64(chatID)}
	chunks := splitText(text, textLimit, parseMode)
	sent := 0
	if v, ok := ev.Option(sentOpt); ok {
		sent, _ = strconv.Atoi(v)
	}
	for i := sent; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := f.bot.Send(chat, chunks[i], &tele.SendOptions{
			ParseMode:             parseMode,
			ThreadID:              threadID,
			DisableWebPagePreview: true,
		})
		if err != nil {
			if i > 0 {
				if ev.ForwarderOpts == nil {
					ev.ForwarderOpts = map[string]string{}
				}
				ev.ForwarderOpts[sentOpt] = strconv.Itoa(i)
			}
			return fmt.Errorf("telegram send %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// Probe calls getMe, which fails on a revoked token or an unreachable API.
func (f *Forwarder) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := f.bot.Raw("getMe", nil); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	return nil
}

// splitText cuts long messages at newlines where possible. For HTML it
// never cuts inside a tag or an entity, and elements still open at a cut are
// closed at the end of the chunk and reopened at the start of the next.
func splitText(s string, limit int, parseMode string) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	var open []htmlTag
	start := 0
	for start < len(rs) {
		reopen := ""
		for _, t := range open {
			reopen += t.raw
		}
		room := limit - len([]rune(reopen)) - closingLen(open)
		if room < limit/2 {
			room = limit / 2
		}
		end := min(start+room, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= room/3 {
					end = i + 1
					break
				}
			}
		}
		if html && end < len(rs) {
			end = safeCut(rs, start, end)
		}

		var next []htmlTag
		if html {
			next = scanTags(open, rs[start:end])
			// Closing tags right after the cut belong to this chunk.
			for len(next) > 0 {
				closer := []rune("</" + next[len(next)-1].name + ">")
				if end+len(closer) > len(rs) || string(rs[end:end+len(closer)]) != string(closer) {
					break
				}
				end += len(closer)
				next = next[:len(next)-1]
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if html {
			chunk = reopen + chunk + closeTags(next)
			open = next
		}
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

type htmlTag struct {
	name string
	raw  string
}

// safeCut moves end back so rs[start:end] does not end inside a tag or an
// entity.
func safeCut(rs []rune, start, end int) int {
	lastOpen, lastClose, lastAmp, lastSemi := -1, -1, -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		case '&':
			lastAmp = i
		case ';':
			lastSemi = i
		}
	}
	if lastOpen > lastClose && lastOpen > start {
		end = lastOpen
	}
	if lastAmp > lastSemi && lastAmp > start && lastAmp < end {
		end = lastAmp
	}
	return end
}

// scanTags returns the elements still open after text, given the ones open
// before it.
func scanTags(open []htmlTag, text []rune) []htmlTag {
	stack := append([]htmlTag(nil), open...)
	for i := 0; i < len(text); i++ {
		if text[i] != '<' {
			continue
		}
		j := i + 1
		for j < len(text) && text[j] != '>' {
			j++
		}
		if j >= len(text) {
			break
		}
		raw := string(text[i : j+1])
		inner := strings.TrimSpace(string(text[i+1 : j]))
		i = j
		if strings.HasPrefix(inner, "/") {
			name := strings.ToLower(strings.TrimSpace(inner[1:]))
			for k := len(stack) - 1; k >= 0; k-- {
				if stack[k].name == name {
					stack = stack[:k]
					break
				}
			}
			continue
		}
		if strings.HasSuffix(inner, "/") {
			continue
		}
		name := inner
		if k := strings.IndexAny(name, " \t\n"); k >= 0 {
			name = name[:k]
		}
		stack = append(stack, htmlTag{name: strings.ToLower(name), raw: raw})
	}
	return stack
}

func closeTags(open []htmlTag) string {
	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i].name + ">")
	}
	return b.String()
}

func closingLen(open []htmlTag) int {
	n := 0
	for _, t := range open {
		n += len(t.name) + 3
	}
	return n
}
