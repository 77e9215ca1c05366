package activity

// OAuthCardContentType identifies the channel's sign-in card attachment.
const OAuthCardContentType = "application/vnd.microsoft.card.oauth"

type OAuthCard struct {
	ConnectionName string `json:"connectionName"`
	Title          string `json:"title"`
	Text           string `json:"text,omitempty"`
}

func NewOAuthCardAttachment(connectionName, title, text string) Attachment {
	return Attachment{
		ContentType: OAuthCardContentType,
		Content: OAuthCard{
			ConnectionName: connectionName,
			Title:          title,
			Text:           text,
		},
	}
}

// AI provenance entity attached to final streamed messages so the channel
// renders the generated-by-AI label.
const messageEntityType = "https://schema.org/Message"

func NewAIGeneratedEntity() Entity {
	return Entity{
		"type":           messageEntityType,
		"@type":          "Message",
		"@context":       "https://schema.org",
		"additionalType": []string{"AIGeneratedContent"},
	}
}
