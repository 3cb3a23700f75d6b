package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// botRepo implements the Bot repository
type botRepo struct {
	db *sql.DB
}

// NewBotRepo creates a new Bot repository
func NewBotRepo(db *sql.DB) repo.BotRepo {
	return &botRepo{db: db}
}

const botColumns = `id, name, app_id, app_secret, default_provider, training_mode, status,
	display_name, avatar_url, notify_channel_id, admin_user_ids, live_profiles, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*domain.Bot, error) {
	var bot domain.Bot
	var training int
	var status, admins, profiles string
	var updatedAt int64
	err := row.Scan(&bot.ID, &bot.Name, &bot.AppID, &bot.AppSecret, &bot.DefaultProvider, &training, &status,
		&bot.DisplayName, &bot.AvatarURL, &bot.NotifyChannelID, &admins, &profiles, &updatedAt)
	if err != nil {
		return nil, err
	}
	bot.TrainingMode = training != 0
	bot.Status = domain.BotStatus(status)
	bot.UpdatedAt = fromUnix(updatedAt)
	if err := json.Unmarshal([]byte(admins), &bot.AdminUserIDs); err != nil {
		return nil, fmt.Errorf("failed to decode admin ids: %w", err)
	}
	if err := json.Unmarshal([]byte(profiles), &bot.LiveProfiles); err != nil {
		return nil, fmt.Errorf("failed to decode live profiles: %w", err)
	}
	return &bot, nil
}

// Get gets a bot by id
func (r *botRepo) Get(ctx context.Context, id string) (*domain.Bot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	bot, err := scanBot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bot: %w", err)
	}
	return bot, nil
}

// List lists all bots
func (r *botRepo) List(ctx context.Context) ([]*domain.Bot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []*domain.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// Save creates or updates a bot
func (r *botRepo) Save(ctx context.Context, bot *domain.Bot) error {
	if bot.Status == "" {
		bot.Status = domain.BotStatusOffline
	}
	admins, err := json.Marshal(nonNil(bot.AdminUserIDs))
	if err != nil {
		return fmt.Errorf("failed to encode admin ids: %w", err)
	}
	profiles, err := json.Marshal(nonNilProfiles(bot.LiveProfiles))
	if err != nil {
		return fmt.Errorf("failed to encode live profiles: %w", err)
	}
	bot.UpdatedAt = time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bots (`+botColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			app_id = excluded.app_id,
			app_secret = excluded.app_secret,
			default_provider = excluded.default_provider,
			training_mode = excluded.training_mode,
			status = excluded.status,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			notify_channel_id = excluded.notify_channel_id,
			admin_user_ids = excluded.admin_user_ids,
			live_profiles = excluded.live_profiles,
			updated_at = excluded.updated_at
	`,
		bot.ID, bot.Name, bot.AppID, bot.AppSecret, bot.DefaultProvider, boolToInt(bot.TrainingMode), string(bot.Status),
		bot.DisplayName, bot.AvatarURL, bot.NotifyChannelID, string(admins), string(profiles), bot.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save bot: %w", err)
	}
	return nil
}

// UpdateStatus persists the connection status
func (r *botRepo) UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bots SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update bot status: %w", err)
	}
	return nil
}

// UpdateIdentity persists the display name and avatar
func (r *botRepo) UpdateIdentity(ctx context.Context, id, displayName, avatarURL string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bots SET display_name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
		displayName, avatarURL, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update bot identity: %w", err)
	}
	return nil
}

// UpdateLiveProfiles persists live profile state
func (r *botRepo) UpdateLiveProfiles(ctx context.Context, id string, profiles []domain.LiveProfile) error {
	data, err := json.Marshal(nonNilProfiles(profiles))
	if err != nil {
		return fmt.Errorf("failed to encode live profiles: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE bots SET live_profiles = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update live profiles: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilProfiles(p []domain.LiveProfile) []domain.LiveProfile {
	if p == nil {
		return []domain.LiveProfile{}
	}
	return p
}
