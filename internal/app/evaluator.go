package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"docqa/internal/ai"
)

const defaultPassingThreshold = 0.5

const faithfulnessPrompt = `Please tell if a given piece of information is supported by the context.
You need to answer with either YES or NO.
Answer YES if any of the context supports the information, even if most of the context is unrelated.

Information: %s
Context:
%s
Answer: `

const relevancyPrompt = `Your task is to evaluate if the response for the query is in line with the context information provided.
You have two options to answer. Either YES or NO.
Answer YES if the response for the query is in line with context information otherwise NO.

Query and Response:
Question: %s
Response: %s
Context:
%s
Answer: `

// EvalResult is one judged dimension.
type EvalResult struct {
	Score    float64
	Passing  bool
	Feedback string
}

// Evaluation is attached to every answer. Score fields are nil when the judge for
// that dimension could not produce a verdict.
type Evaluation struct {
	FaithfulnessScore   *float64 `json:"faithfulness_score"`
	FaithfulnessPassing *bool    `json:"faithfulness_passing"`
	RelevancyScore      *float64 `json:"relevancy_score"`
	RelevancyPassing    *bool    `json:"relevancy_passing"`
	Available           bool     `json:"available"`
	Message             string   `json:"message,omitempty"`
}

type Evaluator struct {
	chat      ChatModel
	threshold float64
}

func NewEvaluator(chat ChatModel, threshold float64) *Evaluator {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultPassingThreshold
	}
	return &Evaluator{chat: chat, threshold: threshold}
}

// EvaluateFaithfulness asks whether answer is supported by contexts.
func (e *Evaluator) EvaluateFaithfulness(ctx context.Context, query, answer string, contexts []string) (EvalResult, error) {
	prompt := fmt.Sprintf(faithfulnessPrompt, answer, joinContexts(contexts))
	return e.judge(ctx, prompt, "faithfulness")
}

// EvaluateRelevancy asks whether the query/answer pair is in line with contexts.
func (e *Evaluator) EvaluateRelevancy(ctx context.Context, query, answer string, contexts []string) (EvalResult, error) {
	prompt := fmt.Sprintf(relevancyPrompt, query, answer, joinContexts(contexts))
	return e.judge(ctx, prompt, "relevancy")
}

// Evaluate runs both judges concurrently. It never fails: a judge error leaves
// its dimension empty and Available false.
func (e *Evaluator) Evaluate(ctx context.Context, query, answer string, contexts []string) Evaluation {
	var (
		faith, rel       EvalResult
		faithErr, relErr error
		g                errgroup.Group
	)
	g.Go(func() error {
		faith, faithErr = e.EvaluateFaithfulness(ctx, query, answer, contexts)
		return nil
	})
	g.Go(func() error {
		rel, relErr = e.EvaluateRelevancy(ctx, query, answer, contexts)
		return nil
	})
	_ = g.Wait()

	var out Evaluation
	var missing []string
	if faithErr == nil {
		out.FaithfulnessScore = &faith.Score
		out.FaithfulnessPassing = &faith.Passing
	} else {
		log.Printf("evaluation unavailable: faithfulness: %v", faithErr)
		missing = append(missing, "faithfulness")
	}
	if relErr == nil {
		out.RelevancyScore = &rel.Score
		out.RelevancyPassing = &rel.Passing
	} else {
		log.Printf("evaluation unavailable: relevancy: %v", relErr)
		missing = append(missing, "relevancy")
	}
	out.Available = len(missing) == 0
	if !out.Available {
		out.Message = strings.Join(missing, " and ") + " evaluation unavailable"
	}
	return out
}

func (e *Evaluator) judge(ctx context.Context, prompt, dimension string) (EvalResult, error) {
	out, err := e.chat.Complete(ctx, []ai.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return EvalResult{}, newError(ErrEvaluation, dimension+" evaluation failed", err)
	}
	score := parseVerdict(out)
	return EvalResult{
		Score:    score,
		Passing:  score >= e.threshold,
		Feedback: strings.TrimSpace(out),
	}, nil
}

// parseVerdict maps a YES/NO judge reply to 1 or 0.
func parseVerdict(reply string) float64 {
	if strings.Contains(strings.ToLower(reply), "yes") {
		return 1
	}
	return 0
}

func joinContexts(contexts []string) string {
	return strings.Join(contexts, "\n\n")
}
