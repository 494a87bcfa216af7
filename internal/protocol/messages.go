package protocol

// Accounts are base58 strings. Amounts are decimal strings in base units
// (10^18 per token).

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Player          string     `json:"player"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Player          string         `json:"player"`
	Admin           bool           `json:"admin,omitempty"`
	Params          ArenaParams    `json:"params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type ArenaParams struct {
	CurrentEpoch         uint64 `json:"current_epoch"`
	GenesisUnix          int64  `json:"genesis_unix"`
	EpochSeconds         int64  `json:"epoch_seconds"`
	DisputeWindowSeconds int64  `json:"dispute_window_seconds"`
	RoundsPerCall        int    `json:"rounds_per_call"`
	CreateFee            string `json:"create_fee"`
	HealFee              string `json:"heal_fee"`
	ResurrectFee         string `json:"resurrect_fee"`
}

type CatalogDigests struct {
	Enemies string `json:"enemies"`
	Classes string `json:"classes"`
	Tuning  string `json:"tuning"`
}

// ACT (client -> server): one state-changing operation. Only the fields the
// op reads need to be set; the acting player comes from the session.
type ActMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	Op              string   `json:"op"`
	Class           uint8    `json:"class"`
	EnemyID         uint16   `json:"enemy_id,omitempty"`
	EnemyLevel      uint8    `json:"enemy_level,omitempty"`
	Fee             string   `json:"fee,omitempty"`
	Epoch           uint64   `json:"epoch,omitempty"`
	Index           uint64   `json:"index,omitempty"`
	Account         string   `json:"account,omitempty"`
	Amount          string   `json:"amount,omitempty"`
	Proof           []string `json:"proof,omitempty"`
	Root            string   `json:"root,omitempty"`
}

// Query names.
const (
	QueryCharacter    = "CHARACTER"
	QueryPools        = "POOLS"
	QueryEpochScore   = "EPOCH_SCORE"
	QueryCanHeal      = "CAN_HEAL"
	QueryCanResurrect = "CAN_RESURRECT"
	QueryIsClaimed    = "IS_CLAIMED"
	QueryEpoch        = "EPOCH"
	QueryRoot         = "ROOT"
)

// QUERY (client -> server): read-only lookup. Player defaults to the session.
type QueryMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Query           string `json:"query"`
	Player          string `json:"player,omitempty"`
	Epoch           uint64 `json:"epoch,omitempty"`
	Index           uint64 `json:"index,omitempty"`
}

// RESULT (server -> client): reply to ACT or QUERY with the same req_id.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Op              string `json:"op"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// EVENT (server -> client): engine observations concerning the session's player.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	Data            any    `json:"data"`
}

// Event kinds carried by EVENT messages and the event log.
const (
	EventFightResolved = "FIGHT_RESOLVED"
	EventRootPublished = "ROOT_PUBLISHED"
	EventPrizeClaimed  = "PRIZE_CLAIMED"
)

// SUBSCRIBE (observer -> server): filters the spectator feed. An empty
// player means every player; empty kinds means every kind.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Player          string   `json:"player,omitempty"`
	Kinds           []string `json:"kinds,omitempty"`
}

// ObserverBootstrap is served over HTTP before an observer subscribes.
type ObserverBootstrap struct {
	ProtocolVersion string            `json:"protocol_version"`
	CurrentEpoch    uint64            `json:"current_epoch"`
	Pools           map[string]string `json:"pools"`
	Catalogs        CatalogDigests    `json:"catalogs"`
}
