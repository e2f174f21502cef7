package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AnswerKey identifies an answer. Answer IDs are only unique within their
// parent question.
type AnswerKey struct {
	QuestionID int64 `json:"questionId"`
	AnswerID   int64 `json:"answerId"`
}

// String returns the legacy "{q}_{a}" encoding read by ParseAnswerKey.
func (k AnswerKey) String() string {
	return fmt.Sprintf("%d_%d", k.QuestionID, k.AnswerID)
}

// LikedQuestionSet is the set of question IDs liked on this device.
type LikedQuestionSet map[int64]struct{}

// LikedAnswerSet is the set of answers liked on this device.
type LikedAnswerSet map[AnswerKey]struct{}

// NewLikedQuestionSet builds a set from the given IDs.
func NewLikedQuestionSet(ids ...int64) LikedQuestionSet {
	s := make(LikedQuestionSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set is empty.
func (s LikedQuestionSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy of s.
func (s LikedQuestionSet) Clone() LikedQuestionSet {
	out := make(LikedQuestionSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the IDs in ascending order.
func (s LikedQuestionSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarshalJSON encodes the set as a sorted array of IDs.
func (s LikedQuestionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of IDs. Numeric strings are accepted and
// entries that are not IDs are dropped.
func (s *LikedQuestionSet) UnmarshalJSON(b []byte) error {
	set, _, err := ParseLikedQuestions(b)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// ParseLikedQuestions decodes a stored question set. Unreadable entries are
// skipped and returned so one bad entry does not cost the rest of the set.
// An error means the blob is not an array at all.
func ParseLikedQuestions(b []byte) (LikedQuestionSet, []string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, err
	}
	out := make(LikedQuestionSet, len(raw))
	var skipped []string
	for _, r := range raw {
		id, err := parseQuestionID(r)
		if err != nil {
			skipped = append(skipped, string(r))
			continue
		}
		out[id] = struct{}{}
	}
	return out, skipped, nil
}

func parseQuestionID(r json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(r, &id); err == nil {
		return id, nil
	}
	var str string
	if err := json.Unmarshal(r, &str); err != nil {
		return 0, fmt.Errorf("question id: %s", r)
	}
	return strconv.ParseInt(str, 10, 64)
}

// NewLikedAnswerSet builds a set from the given keys.
func NewLikedAnswerSet(keys ...AnswerKey) LikedAnswerSet {
	s := make(LikedAnswerSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether the answer is in the set.
func (s LikedAnswerSet) Has(questionID, answerID int64) bool {
	_, ok := s[AnswerKey{QuestionID: questionID, AnswerID: answerID}]
	return ok
}

// Clone returns an independent copy of s.
func (s LikedAnswerSet) Clone() LikedAnswerSet {
	out := make(LikedAnswerSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Sorted returns the keys ordered by question, then answer.
func (s LikedAnswerSet) Sorted() []AnswerKey {
	keys := make([]AnswerKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].QuestionID != keys[j].QuestionID {
			return keys[i].QuestionID < keys[j].QuestionID
		}
		return keys[i].AnswerID < keys[j].AnswerID
	})
	return keys
}

// MarshalJSON encodes the set as a sorted array of key objects.
func (s LikedAnswerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of key objects. Legacy "{q}_{a}" strings
// written by older clients are accepted too. Unreadable entries are dropped.
func (s *LikedAnswerSet) UnmarshalJSON(b []byte) error {
	set, _, err := ParseLikedAnswers(b)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// ParseLikedAnswers is ParseLikedQuestions for answer sets.
func ParseLikedAnswers(b []byte) (LikedAnswerSet, []string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, err
	}
	out := make(LikedAnswerSet, len(raw))
	var skipped []string
	for _, r := range raw {
		k, err := parseAnswerEntry(r)
		if err != nil {
			skipped = append(skipped, string(r))
			continue
		}
		out[k] = struct{}{}
	}
	return out, skipped, nil
}

func parseAnswerEntry(r json.RawMessage) (AnswerKey, error) {
	var str string
	if err := json.Unmarshal(r, &str); err == nil {
		return ParseAnswerKey(str)
	}
	var k AnswerKey
	if err := json.Unmarshal(r, &k); err != nil {
		return AnswerKey{}, fmt.Errorf("answer key: %w", err)
	}
	return k, nil
}

// ParseAnswerKey parses the legacy "{questionId}_{answerId}" form.
func ParseAnswerKey(s string) (AnswerKey, error) {
	q, a, ok := strings.Cut(s, "_")
	if !ok {
		return AnswerKey{}, fmt.Errorf("answer key %q: missing separator", s)
	}
	qid, err := strconv.ParseInt(q, 10, 64)
	if err != nil {
		return AnswerKey{}, fmt.Errorf("answer key %q: %w", s, err)
	}
	aid, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return AnswerKey{}, fmt.Errorf("answer key %q: %w", s, err)
	}
	return AnswerKey{QuestionID: qid, AnswerID: aid}, nil
}

// ToggleQuestionLike flips membership of id. The returned delta is +1 when
// the question became liked and -1 when it was unliked. The input set is
// left untouched.
func ToggleQuestionLike(current LikedQuestionSet, id int64) (LikedQuestionSet, int) {
	next := current.Clone()
	if next.Has(id) {
		delete(next, id)
		return next, -1
	}
	next[id] = struct{}{}
	return next, 1
}

// ToggleAnswerLike is ToggleQuestionLike for answers.
func ToggleAnswerLike(current LikedAnswerSet, questionID, answerID int64) (LikedAnswerSet, int) {
	k := AnswerKey{QuestionID: questionID, AnswerID: answerID}
	next := current.Clone()
	if _, ok := next[k]; ok {
		delete(next, k)
		return next, -1
	}
	next[k] = struct{}{}
	return next, 1
}

// ApplyDelta adjusts a displayed like count, never going below baseline
// or zero.
func ApplyDelta(count, baseline, delta int) int {
	if baseline < 0 {
		baseline = 0
	}
	n := count + delta
	if n < baseline {
		return baseline
	}
	return n
}

// Answer is a forum answer as returned by the forum backend.
type Answer struct {
	ID         int64     `json:"id"`
	Body       string    `json:"body"`
	Author     string    `json:"author"`
	LikesCount int       `json:"likesCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Question is a forum question as returned by the forum backend.
type Question struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Author     string    `json:"author"`
	LikesCount int       `json:"likesCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Answers    []Answer  `json:"answers"`
}

// ReconciledAnswer is an Answer with the local like state applied.
type ReconciledAnswer struct {
	Answer
	UserHasLiked bool `json:"userHasLiked"`
}

// ReconciledQuestion is a Question with the local like state applied.
type ReconciledQuestion struct {
	ID           int64              `json:"id"`
	Title        string             `json:"title"`
	Body         string             `json:"body"`
	Author       string             `json:"author"`
	LikesCount   int                `json:"likesCount"`
	UserHasLiked bool               `json:"userHasLiked"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	Answers      []ReconciledAnswer `json:"answers"`
}

// OverlayMode selects how local likes combine with server counts.
type OverlayMode int

const (
	// OverlayAdditive assumes server counts never include this device's
	// like and adds one for every locally liked item.
	OverlayAdditive OverlayMode = iota
	// OverlayServerCounted assumes server counts already include this
	// device's like. Counts pass through unchanged.
	OverlayServerCounted
)

// ParseOverlayMode maps "additive" and "server" to an OverlayMode.
func ParseOverlayMode(s string) (OverlayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "additive":
		return OverlayAdditive, nil
	case "server":
		return OverlayServerCounted, nil
	}
	return OverlayAdditive, fmt.Errorf("unknown overlay mode %q", s)
}

func (m OverlayMode) String() string {
	if m == OverlayServerCounted {
		return "server"
	}
	return "additive"
}

func (m OverlayMode) count(server int, liked bool) int {
	if server < 0 {
		server = 0
	}
	if liked && m == OverlayAdditive {
		return server + 1
	}
	return server
}

// Reconcile overlays the local like sets onto server questions. It builds a
// new object graph and does not modify questions.
func Reconcile(questions []Question, likedQ LikedQuestionSet, likedA LikedAnswerSet, mode OverlayMode) []ReconciledQuestion {
	out := make([]ReconciledQuestion, 0, len(questions))
	for _, q := range questions {
		liked := likedQ.Has(q.ID)
		rq := ReconciledQuestion{
			ID:           q.ID,
			Title:        q.Title,
			Body:         q.Body,
			Author:       q.Author,
			LikesCount:   mode.count(q.LikesCount, liked),
			UserHasLiked: liked,
			CreatedAt:    q.CreatedAt,
			UpdatedAt:    q.UpdatedAt,
			Answers:      make([]ReconciledAnswer, 0, len(q.Answers)),
		}
		for _, a := range q.Answers {
			aLiked := likedA.Has(q.ID, a.ID)
			ra := ReconciledAnswer{Answer: a, UserHasLiked: aLiked}
			ra.LikesCount = mode.count(a.LikesCount, aLiked)
			rq.Answers = append(rq.Answers, ra)
		}
		out = append(out, rq)
	}
	return out
}
