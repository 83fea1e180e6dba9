package cognitive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/logging"
	"atlas/internal/metadata"
	"atlas/internal/textutil"
)

const (
	maxSentenceSources  = 3
	minSentenceLen      = 10
	maxSentenceQuestion = 10
	maxTagSources       = 3
	relatedTagSources   = 2
	progressiveCount    = 5
	maxLLMQuestions     = 5
	sentenceQuoteLen    = 120
	defaultLLMTimeout   = 30 * time.Second
)

// Completer produces free text from a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var sentenceTemplates = []string{
	"What is the significance of the statement: %q?",
	"What evidence supports the claim that %q?",
	"How does %q connect to broader ideas you already know?",
	"What questions does %q raise for you?",
	"What would change if %q were not true?",
}

var tagTemplates = []string{
	"What do you already know about %s?",
	"How does this content change your understanding of %s?",
	"Where else have you seen %s come up, and how does it relate here?",
}

var typeTemplates = map[catalog.ContentType][]string{
	catalog.TypeArticle: {
		"What is the author's main argument?",
		"Which claims in this article would you challenge?",
	},
	catalog.TypeYouTube: {
		"What were the key points demonstrated in this video?",
		"How would you explain the video's main idea to someone else?",
	},
	catalog.TypePodcast: {
		"What perspectives did the speakers bring to the conversation?",
		"Which moment in this episode was most surprising, and why?",
	},
	catalog.TypeInstapaper: {
		"Why did you save this for later?",
		"What are the implications of this piece for your current work?",
	},
}

var genericTypeTemplates = []string{
	"What is the most important takeaway from this content?",
}

var relatedTemplates = []string{
	"How does this compare with %q?",
	"What patterns connect this with %q?",
	"Where does this contrast with %q?",
}

// Difficulty buckets for progressive questioning, levels 1 to 5.
var levelKeywords = [][]string{
	{"what", "who", "when", "where"},
	{"how", "why", "relates", "relate"},
	{"compare", "contrast", "evidence", "patterns"},
	{"connect", "integrate", "relationship"},
	{"evaluate", "critique", "challenge", "implications"},
}

// Questions generates review questions for content.
type Questions struct {
	meta      *metadata.Manager
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
}

// QuestionOption customizes a Questions engine.
type QuestionOption func(*Questions)

// WithCompleter appends model-written questions. Failures are ignored.
func WithCompleter(c Completer, timeout time.Duration) QuestionOption {
	return func(q *Questions) {
		q.completer = c
		if timeout > 0 {
			q.timeout = timeout
		}
	}
}

// NewQuestions builds a question engine. meta may be nil, which disables
// related-content questions.
func NewQuestions(meta *metadata.Manager, logger *slog.Logger, opts ...QuestionOption) *Questions {
	q := &Questions{meta: meta, timeout: defaultLLMTimeout, logger: logging.NewComponentLogger(orNop(logger), "questions")}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Generate returns an ordered, deduplicated question list for content and
// the optional item it came from.
func (q *Questions) Generate(ctx context.Context, content string, item *catalog.ContentItem) []string {
	var out questionSet
	out.addAll(fromSentences(content))
	if item != nil {
		out.addAll(fromTags(item.Tags))
		out.addAll(fromType(item.ContentType))
		if q.meta != nil {
			out.addAll(fromAge(item.CreatedAt, q.meta.Now()))
			out.addAll(q.fromRelated(ctx, item))
		}
	}
	out.addAll(q.fromModel(ctx, content))
	return out.list
}

// Progressive returns up to five questions matching the keyword bucket of
// level (1 basic to 5 evaluation). When nothing matches, the head of the
// full list is returned.
func (q *Questions) Progressive(ctx context.Context, content string, item *catalog.ContentItem, level int) []string {
	level = min(max(level, 1), len(levelKeywords))
	all := q.Generate(ctx, content, item)
	keywords := levelKeywords[level-1]
	var picked []string
	for _, question := range all {
		words := " " + textutil.FoldWords(question) + " "
		for _, kw := range keywords {
			if strings.Contains(words, " "+kw+" ") {
				picked = append(picked, question)
				break
			}
		}
		if len(picked) == progressiveCount {
			return picked
		}
	}
	if len(picked) == 0 {
		return all[:min(len(all), progressiveCount)]
	}
	return picked
}

func fromSentences(content string) []string {
	var sources []string
	for _, s := range textutil.Sentences(content) {
		if len([]rune(s)) < minSentenceLen {
			continue
		}
		sources = append(sources, quote(s))
		if len(sources) == maxSentenceSources {
			break
		}
	}
	var out []string
	for _, s := range sources {
		for _, tmpl := range sentenceTemplates {
			out = append(out, fmt.Sprintf(tmpl, s))
		}
	}
	return out[:min(len(out), maxSentenceQuestion)]
}

func quote(sentence string) string {
	sentence = strings.TrimRight(strings.TrimSpace(sentence), ".!?")
	runes := []rune(sentence)
	if len(runes) > sentenceQuoteLen {
		return strings.TrimSpace(string(runes[:sentenceQuoteLen])) + "…"
	}
	return sentence
}

func fromTags(tags []string) []string {
	var out []string
	for _, tag := range tags[:min(len(tags), maxTagSources)] {
		for _, tmpl := range tagTemplates {
			out = append(out, fmt.Sprintf(tmpl, tag))
		}
	}
	return out
}

func fromType(ct catalog.ContentType) []string {
	if templates, ok := typeTemplates[ct]; ok {
		return templates
	}
	return genericTypeTemplates
}

func fromAge(created, now time.Time) []string {
	days := daysBetween(created, now)
	var out []string
	if days > 30 {
		out = append(out, "How has your thinking on this topic changed since you saved it?")
	}
	if days > 90 {
		out = append(out, "Is this still relevant to what you are working on now?")
	}
	return out
}

func (q *Questions) fromRelated(ctx context.Context, item *catalog.ContentItem) []string {
	if len(item.Tags) == 0 {
		return nil
	}
	related, err := q.meta.RelatedByTags(ctx, item.Tags[:min(len(item.Tags), relatedTagSources)], item.ID, 1)
	if err != nil {
		q.logger.Debug("related content lookup failed", logging.Error(err))
		return nil
	}
	if len(related) == 0 {
		return nil
	}
	title := related[0].Title
	out := make([]string, 0, len(relatedTemplates))
	for _, tmpl := range relatedTemplates {
		out = append(out, fmt.Sprintf(tmpl, title))
	}
	return out
}

func (q *Questions) fromModel(ctx context.Context, content string) []string {
	if q.completer == nil || strings.TrimSpace(content) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	prompt := fmt.Sprintf("Write up to %d thoughtful review questions about the following content. "+
		"Return one question per line with no numbering.\n\n%s", maxLLMQuestions, truncateRunes(content, 6000))
	reply, err := q.completer.Complete(ctx, prompt)
	if err != nil {
		q.logger.Debug("model questions unavailable", logging.Error(err))
		return nil
	}
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if !strings.HasSuffix(line, "?") {
			continue
		}
		out = append(out, line)
		if len(out) == maxLLMQuestions {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// questionSet keeps first-seen order and drops case-insensitive duplicates.
type questionSet struct {
	list []string
	seen map[string]struct{}
}

func (s *questionSet) addAll(questions []string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, question := range questions {
		key := textutil.FoldWords(question)
		if key == "" {
			continue
		}
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.list = append(s.list, question)
	}
}
