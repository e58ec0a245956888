// Package shuffle turns a stored integer seed into a reproducible
// permutation of a question's four answer choices. Every observer (host
// preview, player, TV) runs the same function locally and renders the same
// order without a server round trip.
package shuffle

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"

	"trivia-live/internal/domain"
)

// ChoiceCount is the fixed number of answer choices per question.
const ChoiceCount = 4

// Option is a renderable answer choice. Correct is only populated for
// clients that have seen a reveal; StripCorrect clears it otherwise.
type Option struct {
	Label   domain.AnswerLabel `json:"label"`
	Text    string             `json:"text"`
	Correct bool               `json:"correct,omitempty"`
}

// Shuffle returns a deterministic permutation of the four options.
// The same seed and input always yield the same order, independent of
// process, platform, or call time.
func Shuffle(options []Option, seed int64) ([]Option, error) {
	if len(options) != ChoiceCount {
		return nil, domain.ErrShuffleInputMismatch
	}
	out := make([]Option, ChoiceCount)
	copy(out, options)

	rnd := rand.New(rand.NewSource(seedFrom(seed)))
	// Fisher-Yates from the last index down, one float draw per swap.
	for i := ChoiceCount - 1; i >= 1; i-- {
		j := int(math.Floor(rnd.Float64() * float64(i+1)))
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ForQuestion builds the shuffled option list for a question, marking the
// canonical choice as correct only when the question has been revealed.
func ForQuestion(q domain.GameQuestion) ([]Option, error) {
	options := make([]Option, 0, len(q.Choices))
	for _, c := range q.Choices {
		options = append(options, Option{
			Label:   c.Label,
			Text:    c.Text,
			Correct: q.Revealed() && c.Label == domain.CorrectLabel,
		})
	}
	return Shuffle(options, q.RandomizationSeed)
}

// Choices reorders a question's stored choices for transmission to
// clients that have not seen a reveal. Correctness never leaves the
// server on this path.
func Choices(q domain.GameQuestion) ([]domain.Choice, error) {
	options, err := ForQuestion(q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Choice, len(options))
	for i, o := range StripCorrect(options) {
		out[i] = domain.Choice{Label: o.Label, Text: o.Text}
	}
	return out, nil
}

// StripCorrect returns a copy with every correctness flag cleared, for
// clients that have not yet seen a reveal event.
func StripCorrect(options []Option) []Option {
	out := make([]Option, len(options))
	for i, o := range options {
		o.Correct = false
		out[i] = o
	}
	return out
}

// seedFrom hashes the decimal form of the stored seed. Hashing keeps
// numerically adjacent seeds from producing correlated float streams.
func seedFrom(seed int64) int64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(seed, 10)))
	return int64(h.Sum64())
}
