package intake

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Trigger is why a group message was accepted.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerPrivate
	TriggerMention
	TriggerReply
	TriggerBotName
)

func (t Trigger) String() string {
	switch t {
	case TriggerPrivate:
		return "private"
	case TriggerMention:
		return "mention"
	case TriggerReply:
		return "reply"
	case TriggerBotName:
		return "bot_name"
	default:
		return "none"
	}
}

// Evaluate applies the trigger rule: private conversations always trigger; group messages
// trigger on an explicit mention, a reply to the bot, or a leading bot name. A bot name standing
// as a word elsewhere in the text counts as a mention.
func Evaluate(ev Event, botNames []string) Trigger {
	switch {
	case ev.IsPrivate:
		return TriggerPrivate
	case ev.Mentioned:
		return TriggerMention
	case ev.RepliedToBot:
		return TriggerReply
	case leadingBotName(ev.Text, botNames) != "":
		return TriggerBotName
	case containsBotName(ev.Text, botNames):
		return TriggerMention
	}
	return TriggerNone
}

func isSeparator(r rune) bool {
	return r == ',' || r == ':' || unicode.IsSpace(r)
}

// leadingBotName returns the first token of text if it is one of names, compared case-insensitively.
func leadingBotName(text string, names []string) string {
	fields := strings.FieldsFunc(text, isSeparator)
	if len(fields) == 0 {
		return ""
	}
	for _, name := range names {
		if name != "" && strings.EqualFold(fields[0], name) {
			return fields[0]
		}
	}
	return ""
}

func containsBotName(text string, names []string) bool {
	for _, name := range names {
		if name != "" && len(wordMatches(text, name)) > 0 {
			return true
		}
	}
	return false
}

// StripTokens removes mention tokens and bot names from text before it goes downstream.
func StripTokens(text string, trigger Trigger, mentionTokens, botNames []string) string {
	if trigger == TriggerBotName {
		text = strings.TrimLeftFunc(text, isSeparator)
		if name := leadingBotName(text, botNames); name != "" {
			text = strings.TrimLeftFunc(text[len(name):], isSeparator)
		}
	}
	for _, tok := range mentionTokens {
		if tok != "" {
			text = cut(text, foldMatches(text, tok))
		}
	}
	for _, name := range botNames {
		if name != "" {
			text = cut(text, wordMatches(text, name))
		}
	}
	return strings.TrimSpace(strings.TrimLeftFunc(text, isSeparator))
}

// foldMatches returns the byte ranges of non-overlapping case-insensitive occurrences of word.
func foldMatches(text, word string) [][2]int {
	var matches [][2]int
	for i := 0; i < len(text); {
		if end := matchFold(text, i, word); end > i {
			matches = append(matches, [2]int{i, end})
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return matches
}

// wordMatches keeps the occurrences of word that stand alone, so "herald" matches in
// "hey herald, hi" but not in "heralded" or "@herald".
func wordMatches(text, word string) [][2]int {
	var words [][2]int
	for _, m := range foldMatches(text, word) {
		if wordBoundaryBefore(text, m[0]) && wordBoundaryAfter(text, m[1]) {
			words = append(words, m)
		}
	}
	return words
}

// matchFold reports where a case-insensitive match of word starting at text[i] ends, or -1.
func matchFold(text string, i int, word string) int {
	if word == "" {
		return -1
	}
	for _, wr := range word {
		if i >= len(text) {
			return -1
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if !equalFoldRune(r, wr) {
			return -1
		}
		i += size
	}
	return i
}

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

func cut(text string, matches [][2]int) string {
	if len(matches) == 0 {
		return text
	}
	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(text[last:m[0]])
		last = m[1]
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func wordBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r) && r != '@'
}

func wordBoundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}
