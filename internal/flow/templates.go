package flow

import (
	"strings"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// Trigger phrases. Matching is exact after trimming; near-misses are
// deliberately ignored so a completed paid step cannot be re-triggered by
// loose intent guessing.
const (
	TriggerUnlock  = "もっと占う"
	TriggerClosing = "結びの言葉"
)

// Canned user-facing messages. Failures are always a calm apology, never an
// upstream error string.
const (
	msgAskConcern = "ありがとうございます。それでは、いま一番気になっていることを一言で教えてください。恋愛、仕事、人間関係、どんなことでも大丈夫です。"

	msgApology = "ごめんなさい、星の声がうまく届きませんでした。少し時間をおいて、もう一度お送りください。"

	msgSystemError = "申し訳ありません、システムの調子が良くないようです。しばらくしてからもう一度お試しください。"

	msgNoCredits = "占いチケットがなくなってしまいました。追加のチケットをご購入いただくと、続きを占うことができます。"

	msgClosing = "今日のあなたの星が、良い方へ導いてくれますように。\nこの占いが心に残ったら、お友だちにもシェアしてみてくださいね。"

	msgFollowUp = "昨日の占い、いかがでしたか？続きが気になったら「もっと占う」と送ってくださいね。"

	missingFieldsHeader = "占いに必要な項目がまだ揃っていません。以下の項目を教えてください。"
	missingFieldsFooter = "例:\n①山田花子\n②1990/01/01\n③14:30\n④INFP\n⑤女性"
)

// missingFieldsMessage builds the itemized guidance for an incomplete profile
// submission.
func missingFieldsMessage(missing []string) models.OutboundMessage {
	var b strings.Builder
	b.WriteString(missingFieldsHeader)
	for _, label := range missing {
		b.WriteString("\n・")
		b.WriteString(label)
	}
	b.WriteString("\n\n")
	b.WriteString(missingFieldsFooter)
	return models.NewTextMessage(b.String())
}

// unlockQuickReply attaches the bonus-unlock trigger as a tappable button.
func unlockQuickReply(text string) models.OutboundMessage {
	return models.NewQuickReplyMessage(text,
		models.MessageQuickReplyItem(TriggerUnlock, TriggerUnlock),
	)
}

// closingQuickReply attaches the closing trigger as a tappable button.
func closingQuickReply(text string) models.OutboundMessage {
	return models.NewQuickReplyMessage(text,
		models.MessageQuickReplyItem(TriggerClosing, TriggerClosing),
	)
}

// closingMessage builds the final sharing message. The share link is
// optional; without one the closing is plain text.
func closingMessage(shareURL string) models.OutboundMessage {
	if shareURL == "" {
		return models.NewTextMessage(msgClosing)
	}
	return models.NewQuickReplyMessage(msgClosing,
		models.URIQuickReplyItem("お友だちにシェア", shareURL),
	)
}

// noCreditsMessage offers the purchase link when one is configured.
func noCreditsMessage(purchaseURL string) models.OutboundMessage {
	if purchaseURL == "" {
		return models.NewTextMessage(msgNoCredits)
	}
	return models.NewQuickReplyMessage(msgNoCredits,
		models.URIQuickReplyItem("チケットを購入", purchaseURL),
	)
}
