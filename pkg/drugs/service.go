package drugs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yclin-dev/medremind/pkg/logger"
	"github.com/yclin-dev/medremind/pkg/store"
)

const (
	msgAIFailed    = "⚠️ AI 回答失敗，請稍後再試"
	msgLookupError = "⚠️ 查詢資料時發生錯誤，請稍後再試"

	aiPrefix = "AI "
)

// Service answers drug questions: known drugs come from the drugs
// table with AI-generated side effects, unknown drugs fall back to a
// fully AI-generated card, and "AI "-prefixed text is free-form Q&A.
type Service struct {
	store store.Store
	gen   Generator
}

func NewService(st store.Store, gen Generator) *Service {
	return &Service{store: st, gen: gen}
}

// Lookup builds a drug information card for a name. It always returns
// a user-facing string; generation failures degrade to fallback text
// inside the card rather than an error.
func (s *Service) Lookup(ctx context.Context, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "請輸入要查詢的藥品名稱:"
	}

	drug, err := s.store.FindDrugLike(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.generatedCard(ctx, name)
		}
		logger.ErrorCF("drugs", "Drug lookup failed", map[string]interface{}{
			"name":  name,
			"error": err.Error(),
		})
		return msgLookupError
	}

	return s.cardWithSideEffects(ctx, drug)
}

// Answer handles free-form Q&A. The caller strips nothing: the "AI "
// prefix is detected and removed here.
func (s *Service) Answer(ctx context.Context, text string) (string, bool) {
	if !strings.HasPrefix(text, aiPrefix) {
		return "", false
	}

	question := strings.TrimSpace(strings.TrimPrefix(text, aiPrefix))
	if question == "" {
		return "", false
	}

	prompt := "你是一個中文的AI助手，請用繁體中文回答。\n" + question
	answer, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		logger.ErrorCF("drugs", "Q&A generation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return msgAIFailed, true
	}
	return answer, true
}

func (s *Service) cardWithSideEffects(ctx context.Context, drug store.Drug) string {
	prompt := fmt.Sprintf(
		"請只用簡短條列式（每點用-開頭，不要用*），僅列出副作用，"+
			"針對藥品「%s」(英文名：%s)，"+
			"請用繁體中文回答，不要加任何說明、警語或強調語句。",
		drug.NameZH, drug.NameEN)

	sideEffects, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		logger.ErrorCF("drugs", "Side effect generation failed", map[string]interface{}{
			"drug":  drug.NameZH,
			"error": err.Error(),
		})
		sideEffects = msgAIFailed
	}

	return fmt.Sprintf(
		"🔹 中文品名：%s\n📌 英文品名：%s\n📄 適應症：%s\n⚠️ 副作用：\n%s",
		drug.NameZH, drug.NameEN, drug.Indication, sideEffects)
}

func (s *Service) generatedCard(ctx context.Context, name string) string {
	prompt := fmt.Sprintf(
		"請用以下格式，幫我介紹藥品「%s」，"+
			"只要條列資料本身，不要加任何說明、警語或強調語句：\n"+
			"🔹 中文品名：\n📌 英文品名：\n📄 適應症：\n"+
			"⚠️ 副作用：\n（請用-開頭條列，不要用*）",
		name)

	card, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		logger.ErrorCF("drugs", "Drug card generation failed", map[string]interface{}{
			"name":  name,
			"error": err.Error(),
		})
		return msgAIFailed
	}
	return strings.TrimSpace(card)
}
