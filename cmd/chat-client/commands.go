package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/omochice/voichai/internal/chat"
)

const helpText = `Commands:
  /play <message>                  speak a whole message
  /sentence <message> <sentence>   speak one sentence
  /from <message> <sentence>       speak from a sentence to the end
  /pause                           pause playback
  /stop                            stop playback
  /stop-response                   cancel the response being generated
  /delete <message>                delete a message
  /generate <message> <start> <end> render audio for a sentence range
  /status                          show the connection state
  /quit                            exit
Anything else is sent as a message.
`

var errUsage = errors.New("usage")

// runCommand interprets one line of input. It reports whether the client
// should exit.
func runCommand(conv *chat.Conversation, out *printer, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		conv.Client.SendUserInput(line)
		return false, nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	c := conv.Client

	switch cmd {
	case "/help":
		out.printf("%s", helpText)
	case "/quit", "/exit":
		return true, nil
	case "/status":
		out.status(conv.Session.State(), nil)
	case "/pause":
		c.SendPausePlayback()
	case "/stop":
		c.SendStopPlayback()
	case "/stop-response":
		c.SendStopResponse()
	case "/play", "/delete":
		ids, err := parseIDs(cmd, args, 1)
		if err != nil {
			return false, err
		}
		if cmd == "/play" {
			c.SendPlayMessage(ids[0])
		} else {
			c.SendDeleteMessage(ids[0])
		}
	case "/sentence", "/from":
		ids, err := parseIDs(cmd, args, 2)
		if err != nil {
			return false, err
		}
		if cmd == "/sentence" {
			c.SendPlayTheSentence(ids[0], ids[1])
		} else {
			c.SendPlaySentences(ids[0], ids[1])
		}
	case "/generate":
		ids, err := parseIDs(cmd, args, 3)
		if err != nil {
			return false, err
		}
		c.SendGenerateAudioFiles(ids[0], ids[1], ids[2])
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

func parseIDs(cmd string, args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%w: %s takes %d numeric argument(s)", errUsage, cmd, n)
	}
	ids := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not a number", errUsage, cmd, a)
		}
		ids[i] = v
	}
	return ids, nil
}

// answerParseRequest splits the requested text and hands the sentences back
// to the backend.
func answerParseRequest(c *chat.Client, req chat.ParseRequest) {
	id := req.Data.MessageID
	switch req.Kind {
	case "user_message":
		c.SendParsedUserMessage(id, splitSentences(id, req.Data.UserMessage))
	case "ai_response":
		c.SendParsedAIResponse(id, splitSentences(id, req.Data.Response))
	}
}

// splitSentences breaks text at sentence-ending punctuation and line breaks.
// Markdown heading lines become single heading sentences.
func splitSentences(messageID int, text string) []chat.Sentence {
	var out []chat.Sentence
	add := func(s string, heading bool) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		out = append(out, chat.Sentence{Text: s, MessageID: messageID, SentenceID: len(out), IsHeading: heading})
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			add(strings.TrimLeft(trimmed, "# "), true)
			continue
		}
		start := 0
		for i, r := range trimmed {
			if strings.ContainsRune(".!?。！？", r) {
				end := i + len(string(r))
				add(trimmed[start:end], false)
				start = end
			}
		}
		add(trimmed[start:], false)
	}
	return out
}
