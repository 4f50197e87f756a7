package bot

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// headerReserve is kept free in every part for the part header.
const headerReserve = 128

// title is the pair of headers put above generated text: one for a single
// message and a format with (part, total) for split replies.
type title struct {
	single string
	part   string
}

var (
	titleWorkout = title{"📋 <b>Твой план тренировки:</b>", "📋 <b>План тренировки (часть %d/%d)</b>"}
	titleGroup   = title{"👥 <b>Групповая тренировка для всех:</b>", "👥 <b>Групповая тренировка (часть %d/%d)</b>"}
	titleReply   = title{"💬 <b>Ответ тренера:</b>", "💬 <b>Ответ тренера (часть %d/%d)</b>"}
	titleAnalyze = title{"<b>Анализ тренера:</b>", "<b>Анализ тренера (часть %d/%d)</b>"}
)

// sendGenerated escapes model text, splits it to fit the message limit and
// sends every part under the matching header.
func (t *TelegramBot) sendGenerated(chatID int64, head title, text string) {
	parts := splitEscaped(text, t.maxLength-headerReserve)
	for i, part := range parts {
		header := head.single
		if len(parts) > 1 {
			header = fmt.Sprintf(head.part, i+1, len(parts))
		}
		t.sendHTML(chatID, header+"\n\n"+part, nil)
	}
}

// sendHTML sends pre-built HTML. Text longer than the limit is split on
// line boundaries.
func (t *TelegramBot) sendHTML(chatID int64, text string, markup interface{}) {
	chunks := splitLines(text, t.maxLength)
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		if i == len(chunks)-1 && markup != nil {
			msg.ReplyMarkup = markup
		}
		if _, err := t.api.Send(msg); err != nil {
			t.logger.Error("Failed to send message", "chat_id", chatID, "part", i+1, "error", err)
		}
	}
}

func (t *TelegramBot) sendPlain(chatID int64, text string) {
	if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Error("Failed to send message", "chat_id", chatID, "error", err)
	}
}

// splitEscaped HTML-escapes text and cuts it into parts of at most limit
// runes after escaping. Cuts prefer the last newline in the second half of
// a part and never land inside an escape sequence or a rune.
func splitEscaped(text string, limit int) []string {
	if limit < 1 {
		limit = 1
	}

	var (
		parts []string
		cur   strings.Builder
		size  int
	)
	// lastNL is the byte offset in cur just past the last newline and
	// sizeAt the escaped size up to it.
	lastNL, sizeAt := -1, 0

	for _, r := range text {
		piece := html.EscapeString(string(r))
		n := utf8.RuneCountInString(piece)

		if size+n > limit && size > 0 {
			s := cur.String()
			if lastNL > 0 && sizeAt*2 >= limit {
				parts = append(parts, strings.TrimRight(s[:lastNL], "\n"))
				rest := s[lastNL:]
				cur.Reset()
				cur.WriteString(rest)
				size -= sizeAt
			} else {
				parts = append(parts, s)
				cur.Reset()
				size = 0
			}
			lastNL, sizeAt = -1, 0
		}

		cur.WriteString(piece)
		size += n
		if r == '\n' {
			lastNL = cur.Len()
			sizeAt = size
		}
	}
	if size > 0 || len(parts) == 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// splitLines cuts already formatted HTML between lines so tags opened on a
// line stay intact. A single line longer than limit is cut by runes.
func splitLines(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		parts []string
		cur   strings.Builder
		size  int
	)
	flush := func() {
		if size > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
		}
		cur.Reset()
		size = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if size+n > limit {
			flush()
		}
		for n > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		cur.WriteString(line)
		size += n
	}
	flush()
	return parts
}
