package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

const userPromptPrefix = "last phrase of user: "

const systemPromptTemplate = `You are participating in a live conversation with a user.
You will be given a history of the dialog and the last phrase of a user.
Your task is to generate an emotionally expressive response
for last phrase of a user.
Your answer should be formed as if it were written in a book.
Your answer should be no more than 20 words.
At the beginning of the sentence you should describe the pronunciation manner
and emotion with which the response should be pronounced.
To express emotionality in speech, you must use exclamation marks "!" and
multiple "!!!" for more expression, ellipses "...",
and place accents and emphasis in the pronunciation of a phrase
by highlighting words in CAPITAL LETTERS.
Use filler words like "hmm", "huh", "aha-ha-ha!", "wow!"
Use emotions only from this list: "sadly", "angrily", "happily", "scared", "surprised",
"anxiously", "excitedly", "cheerfully".
Denote pronunciation description with "{{marker}}"
Use pronunciation manners only from this list: "said", "shouted", "exclaimed"
Examples:
1. {{marker}}he said slowly, sadly:{{marker}} "Oh god... That must be incredibly painful for you... We can discuss it more if you want"
2. {{marker}}he said anxiously:{{marker}} "What makes you think that?!? Tell me everything!!"
3. {{marker}}he said scared:{{marker}} "I... I can't believe this is happening... What do we do now?"
4. {{marker}}he shouted angrily:{{marker}} "No way! I WON'T accept that... absolutely NOT!"
5. {{marker}}he exclaimed excited:{{marker}} "WOW! That's exciting news! I'm really happy for you!"
6. {{marker}}he said cheerfully:{{marker}} "Come on buddy!! I believe you CAN do this!"
7. {{marker}}he exclaimed surprised:{{marker}} "NO WAY! I can't believe it! that's really cool!"
history of a dialog:
{{history}}
`

var ErrEmptyQuery = errors.New("empty user query")

// Generator turns the last user phrase and the dialog history into an
// emotionally annotated reply. The annotation marker must match the one the
// synthesizer trims.
type Generator struct {
	model  ChatModel
	marker string
	logger *slog.Logger
}

func NewGenerator(model ChatModel, marker string, logger *slog.Logger) *Generator {
	if marker == "" {
		marker = "--"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		model:  model,
		marker: marker,
		logger: logger.With(slog.String("component", "generator")),
	}
}

// Prompt builds the system and user messages for one turn.
func (g *Generator) Prompt(query string, history []string) []Message {
	system := strings.NewReplacer(
		"{{marker}}", g.marker,
		"{{history}}", strings.Join(history, "\n"),
	).Replace(systemPromptTemplate)
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: userPromptPrefix + query},
	}
}

func (g *Generator) Generate(ctx context.Context, query string, history []string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	reply, err := g.model.Complete(ctx, g.Prompt(query, history))
	if err != nil {
		return "", err
	}
	g.logger.Info("reply generated", slog.Int("history_lines", len(history)), slog.Int("chars", len(reply)))
	return reply, nil
}
