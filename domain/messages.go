package domain

// Outbound message types (client -> service), carried in the "type" field
const (
	TypeInitialize = "initialize"
	TypeMessage    = "message"
	TypeAudio      = "audio"
)

// Inbound message sources (service -> client), carried in the "source" field
const (
	SourceInitializeResponse = "initialize_response"
	SourceTranscription      = "transcription"
	SourceTextResponse       = "text_response"
)

// DefaultAudioEncoding is used when an audio chunk is sent without an encoding label
const DefaultAudioEncoding = "audio/pcm"

// CredentialFrame is the first frame sent after the socket opens
type CredentialFrame struct {
	APIToken string `json:"api_token"`
}

// SessionParams holds the handshake values for a conversation session
type SessionParams struct {
	UserUUID     string
	Mood         string
	CharacterID  int
	PlayerID     int
	SceneID      int
	AudioSupport bool
	Language     string
}

// OutboundMessage is implemented by every message the client sends after the credential frame.
type OutboundMessage interface {
	MessageType() string
	outbound()
}

// InitializeMessage is the handshake message establishing the session context
type InitializeMessage struct {
	Type         string `json:"type"`
	UserUUID     string `json:"user_uuid"`
	Mood         string `json:"mood"`
	CharacterID  int    `json:"characterId"`
	PlayerID     int    `json:"playerId"`
	SceneID      int    `json:"sceneId"`
	AudioSupport bool   `json:"audioSupport"`
	Language     string `json:"language"`
}

// ChatMessage is a text chat turn
type ChatMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	UserUUID  string `json:"user_uuid"`
	SessionID int    `json:"session_id"`
}

// AudioMessage carries a base64 encoded audio chunk
type AudioMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"` // base64 encoded
	Encoding  string `json:"encoding"`
	UserUUID  string `json:"user_uuid"`
	SessionID int    `json:"session_id"`
}

func (InitializeMessage) MessageType() string { return TypeInitialize }
func (ChatMessage) MessageType() string       { return TypeMessage }
func (AudioMessage) MessageType() string      { return TypeAudio }

func (InitializeMessage) outbound() {}
func (ChatMessage) outbound()       {}
func (AudioMessage) outbound()      {}

// NewInitializeMessage translates session parameters into the handshake message
func NewInitializeMessage(params SessionParams) InitializeMessage {
	return InitializeMessage{
		Type:         TypeInitialize,
		UserUUID:     params.UserUUID,
		Mood:         params.Mood,
		CharacterID:  params.CharacterID,
		PlayerID:     params.PlayerID,
		SceneID:      params.SceneID,
		AudioSupport: params.AudioSupport,
		Language:     params.Language,
	}
}

// NewChatMessage creates a text chat turn
func NewChatMessage(text, userUUID string, sessionID int) ChatMessage {
	return ChatMessage{
		Type:      TypeMessage,
		Message:   text,
		UserUUID:  userUUID,
		SessionID: sessionID,
	}
}

// NewAudioMessage creates an audio message from already encoded data
func NewAudioMessage(data, encoding, userUUID string, sessionID int) AudioMessage {
	if encoding == "" {
		encoding = DefaultAudioEncoding
	}
	return AudioMessage{
		Type:      TypeAudio,
		Data:      data,
		Encoding:  encoding,
		UserUUID:  userUUID,
		SessionID: sessionID,
	}
}

// InboundMessage is implemented by every typed message the service sends.
// The set of implementations is closed: *InitializeResponse, *TranscriptResponse, *TextResponse.
type InboundMessage interface {
	MessageSource() string
	inbound()
}

// InitializeResponse acknowledges the handshake
type InitializeResponse struct {
	Type      string `json:"type"`
	Source    string `json:"source"`
	UserUUID  string `json:"user_uuid"`
	SessionID int    `json:"session_id"`
}

// TranscriptResponse carries the transcript of recognized audio
type TranscriptResponse struct {
	Type     string `json:"type"`
	Source   string `json:"source"`
	Response string `json:"response"`
}

// EmotionState is a snapshot of the character's emotions on four axes.
// Values are passed through as the service sends them.
type EmotionState struct {
	JoySadness           float64 `json:"joy_sadness"`
	TrustDisgust         float64 `json:"trust_disgust"`
	FearAnger            float64 `json:"fear_anger"`
	SurpriseAnticipation float64 `json:"surprise_anticipation"`
}

// TextResponse is the character's reply to a chat or audio turn
type TextResponse struct {
	Type               string       `json:"type"`
	Source             string       `json:"source"`
	Response           string       `json:"response"`
	FlagsPlayer        []string     `json:"flags_player"`
	FlagsCharacter     []string     `json:"flags_character"`
	TokensSpent        int          `json:"tokens_spent"`
	ImmediateEmotion   EmotionState `json:"immediate_emotion"`
	AccumulatedEmotion EmotionState `json:"accumulated_emotion"`
}

func (*InitializeResponse) MessageSource() string { return SourceInitializeResponse }
func (*TranscriptResponse) MessageSource() string { return SourceTranscription }
func (*TextResponse) MessageSource() string       { return SourceTextResponse }

func (*InitializeResponse) inbound() {}
func (*TranscriptResponse) inbound() {}
func (*TextResponse) inbound()       {}
