package answer

import (
	"fmt"
	"strings"

	"github.com/yeonjae-dev/campus-qa/internal/retriever"
)

const promptHeader = `당신은 대학생들을 돕는 친근한 AI 상담사입니다. 아래 참고 정보를 바탕으로 학생의 질문에 자연스럽고 도움이 되는 답변을 한국어로 제공해주세요.

중요한 규칙:
1. 반드시 한국어로만 답변하세요
2. 절대로 코드, 프로그래밍 언어, 함수, 변수명 등을 포함하지 마세요
3. 일반적인 대화체로 자연스럽게 답변하세요
4. 참고 정보의 내용을 참고해서 질문에 대한 답변을 제공하세요
5. 친근하고 이해하기 쉽게 설명하세요
6. 답변은 완전한 문장으로 구성하세요`

const promptHeaderNoContext = `당신은 대학생들을 돕는 친근한 AI 상담사입니다. 학생의 질문에 자연스럽고 도움이 되는 답변을 한국어로 제공해주세요. 답변은 완전한 문장으로, 일반적인 대화체로 작성하세요.`

// buildPrompt assembles the grounded prompt and reports which candidates made
// it into the context window. Candidates arrive ordered by descending score;
// each one is truncated to candidateRunes and the whole context to
// contextRunes, dropping the lowest-scoring tail first.
func buildPrompt(question string, candidates []retriever.Candidate, candidateRunes, contextRunes int) (string, []retriever.Candidate) {
	if len(candidates) == 0 {
		return fmt.Sprintf("%s\n\n질문: %s\n\n답변:", promptHeaderNoContext, question), nil
	}

	var context strings.Builder
	var used []retriever.Candidate
	remaining := contextRunes
	for _, cand := range candidates {
		text := truncateRunes(candidateText(cand), candidateRunes)
		block := fmt.Sprintf("[참고자료 %d]\n%s\n\n", len(used)+1, text)
		n := len([]rune(block))
		if n > remaining {
			break
		}
		context.WriteString(block)
		used = append(used, cand)
		remaining -= n
	}
	if len(used) == 0 {
		// Budget too small for even one block: keep the best candidate, hard cut.
		text := truncateRunes(candidateText(candidates[0]), contextRunes)
		context.WriteString(fmt.Sprintf("[참고자료 1]\n%s\n\n", text))
		used = candidates[:1]
	}

	prompt := fmt.Sprintf("%s\n\n참고 정보:\n***\n%s***\n\n질문: %s\n\n답변:",
		promptHeader, context.String(), question)
	return prompt, used
}

func candidateText(cand retriever.Candidate) string {
	return fmt.Sprintf("제목: %s\n내용: %s", cand.Post.Title, cand.Post.Body)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
