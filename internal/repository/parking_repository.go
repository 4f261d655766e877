package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
)

// ParkingRepository is the Postgres-backed store. Not-found lookups
// return (nil, nil); callers decide whether absence is an error.
type ParkingRepository struct {
	db *gorm.DB
}

func NewParkingRepository(db *gorm.DB) *ParkingRepository {
	return &ParkingRepository{db: db}
}

type sessionRow struct {
	ID            string    `gorm:"primaryKey"`
	Plate         string    `gorm:"not null;index"`
	EntryTime     time.Time `gorm:"not null"`
	ExitTime      *time.Time
	Slot          *string
	Amount        int64
	Paid          bool
	PaymentLinkID *string
	Status        string `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (sessionRow) TableName() string { return "parking_sessions" }

type slotRow struct {
	SlotName       string `gorm:"primaryKey"`
	OccupyingPlate string
	FirstSeen      time.Time
	LastSeen       time.Time
	Mapped         bool
}

func (slotRow) TableName() string { return "slot_states" }

type attemptRow struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"not null;uniqueIndex"`
	Method    string `gorm:"not null"`
	Status    string `gorm:"not null"`
	Amount    int64
	LinkID    *string
	ShortURL  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (attemptRow) TableName() string { return "payment_attempts" }

type eventRow struct {
	ID         int64     `gorm:"primaryKey"`
	Plate      string    `gorm:"not null;index"`
	CameraID   string    `gorm:"not null"`
	EventType  string    `gorm:"not null"`
	EventTime  time.Time `gorm:"not null"`
	RawPayload datatypes.JSONMap
	CreatedAt  time.Time
}

func (eventRow) TableName() string { return "confirmed_events" }

func toSession(r *sessionRow) *parking.ParkingSession {
	return &parking.ParkingSession{
		ID:            r.ID,
		Plate:         r.Plate,
		EntryTime:     r.EntryTime,
		ExitTime:      r.ExitTime,
		Slot:          r.Slot,
		Amount:        r.Amount,
		Paid:          r.Paid,
		PaymentLinkID: r.PaymentLinkID,
		Status:        parking.SessionStatus(r.Status),
	}
}

func toAttempt(r *attemptRow) *parking.PaymentAttempt {
	return &parking.PaymentAttempt{
		ID:        r.ID,
		SessionID: r.SessionID,
		Method:    parking.PaymentMethod(r.Method),
		Status:    parking.AttemptStatus(r.Status),
		Amount:    r.Amount,
		LinkID:    r.LinkID,
		ShortURL:  r.ShortURL,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *ParkingRepository) CreateSession(ctx context.Context, s *parking.ParkingSession) error {
	row := sessionRow{
		ID:        s.ID,
		Plate:     s.Plate,
		EntryTime: s.EntryTime,
		Status:    string(s.Status),
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *ParkingRepository) GetSession(ctx context.Context, id string) (*parking.ParkingSession, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSession(&row), nil
}

// GetOpenSessionByPlate returns the latest open session for the plate.
// Multiple open sessions should be impossible under the lifecycle
// invariant; ordering by entry_time desc is the defined tie-break.
func (r *ParkingRepository) GetOpenSessionByPlate(ctx context.Context, plateText string) (*parking.ParkingSession, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).
		Where("plate = ? AND exit_time IS NULL", plateText).
		Order("entry_time DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSession(&row), nil
}

// CloseSession records the exit atomically, guarded on the session still
// being PARKED.
func (r *ParkingRepository) CloseSession(ctx context.Context, id string, exitTime time.Time, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND status = ?", id, string(parking.StatusParked)).
		Updates(map[string]interface{}{
			"exit_time":  exitTime,
			"amount":     amount,
			"status":     string(parking.StatusExited),
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

// SettleSession marks the session paid, guarded on EXITED.
func (r *ParkingRepository) SettleSession(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND status = ?", id, string(parking.StatusExited)).
		Updates(map[string]interface{}{
			"paid":       true,
			"status":     string(parking.StatusSettled),
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *ParkingRepository) SetSessionPaymentLink(ctx context.Context, id, linkID string) error {
	return r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ?", id).
		Update("payment_link_id", linkID).Error
}

// FindParkedSessionWithoutSlot finds the plate's open PARKED session that
// has no slot assigned yet.
func (r *ParkingRepository) FindParkedSessionWithoutSlot(ctx context.Context, plateText string) (*parking.ParkingSession, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).
		Where("plate = ? AND status = ? AND slot IS NULL", plateText, string(parking.StatusParked)).
		Order("entry_time DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSession(&row), nil
}

// AssignSessionSlot sets the slot, guarded on PARKED with no slot.
func (r *ParkingRepository) AssignSessionSlot(ctx context.Context, id, slot string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND status = ? AND slot IS NULL", id, string(parking.StatusParked)).
		Update("slot", slot)
	return res.RowsAffected > 0, res.Error
}

func (r *ParkingRepository) ClearSessionSlot(ctx context.Context, plateText, slot string) error {
	return r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("plate = ? AND slot = ?", plateText, slot).
		Update("slot", nil).Error
}

type SessionFilter struct {
	Plate  *string
	Status *parking.SessionStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

func (r *ParkingRepository) ListSessions(ctx context.Context, f SessionFilter) ([]parking.ParkingSession, error) {
	query := r.db.WithContext(ctx).Model(&sessionRow{})

	if f.Plate != nil {
		query = query.Where("plate = ?", *f.Plate)
	}
	if f.Status != nil {
		query = query.Where("status = ?", string(*f.Status))
	}
	if f.From != nil {
		query = query.Where("entry_time >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("entry_time <= ?", *f.To)
	}

	query = query.Order("entry_time DESC")
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var rows []sessionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]parking.ParkingSession, 0, len(rows))
	for i := range rows {
		out = append(out, *toSession(&rows[i]))
	}
	return out, nil
}

func (r *ParkingRepository) SaveSlotState(ctx context.Context, s *parking.SlotState) error {
	row := slotRow{
		SlotName:       s.SlotName,
		OccupyingPlate: s.OccupyingPlate,
		FirstSeen:      s.FirstSeen,
		LastSeen:       s.LastSeen,
		Mapped:         s.Mapped,
	}
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *ParkingRepository) DeleteSlotState(ctx context.Context, slotName string) error {
	return r.db.WithContext(ctx).Delete(&slotRow{SlotName: slotName}).Error
}

func (r *ParkingRepository) ListSlotStates(ctx context.Context) ([]parking.SlotState, error) {
	var rows []slotRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]parking.SlotState, 0, len(rows))
	for _, row := range rows {
		out = append(out, parking.SlotState{
			SlotName:       row.SlotName,
			OccupyingPlate: row.OccupyingPlate,
			FirstSeen:      row.FirstSeen,
			LastSeen:       row.LastSeen,
			Mapped:         row.Mapped,
		})
	}
	return out, nil
}

func (r *ParkingRepository) CreateAttempt(ctx context.Context, a *parking.PaymentAttempt) error {
	now := time.Now()
	row := attemptRow{
		ID:        a.ID,
		SessionID: a.SessionID,
		Method:    string(a.Method),
		Status:    string(a.Status),
		Amount:    a.Amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	a.CreatedAt = row.CreatedAt
	a.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *ParkingRepository) GetAttempt(ctx context.Context, id string) (*parking.PaymentAttempt, error) {
	var row attemptRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toAttempt(&row), nil
}

func (r *ParkingRepository) GetAttemptBySession(ctx context.Context, sessionID string) (*parking.PaymentAttempt, error) {
	var row attemptRow
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toAttempt(&row), nil
}

func (r *ParkingRepository) GetAttemptByLink(ctx context.Context, linkID string) (*parking.PaymentAttempt, error) {
	var row attemptRow
	err := r.db.WithContext(ctx).Where("link_id = ?", linkID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toAttempt(&row), nil
}

func (r *ParkingRepository) SetAttemptLink(ctx context.Context, id, linkID, shortURL string) error {
	return r.db.WithContext(ctx).Model(&attemptRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"link_id":    linkID,
			"short_url":  shortURL,
			"updated_at": time.Now(),
		}).Error
}

// CASAttemptStatus transitions the attempt only if it is still in the
// expected source state. A non-empty method also records how it settled.
// The compare-and-set is what makes settlement first-writer-wins.
func (r *ParkingRepository) CASAttemptStatus(ctx context.Context, id string, from, to parking.AttemptStatus, method parking.PaymentMethod) (bool, error) {
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": time.Now(),
	}
	if method != "" {
		updates["method"] = string(method)
	}
	res := r.db.WithContext(ctx).Model(&attemptRow{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *ParkingRepository) ListAttemptsByStatus(ctx context.Context, statuses ...parking.AttemptStatus) ([]parking.PaymentAttempt, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	var rows []attemptRow
	err := r.db.WithContext(ctx).
		Where("status IN ?", values).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]parking.PaymentAttempt, 0, len(rows))
	for i := range rows {
		out = append(out, *toAttempt(&rows[i]))
	}
	return out, nil
}

func (r *ParkingRepository) AppendEvent(ctx context.Context, e *parking.ConfirmedEvent) error {
	row := eventRow{
		Plate:     e.Plate,
		CameraID:  e.CameraID,
		EventType: string(e.Type),
		EventTime: e.EventTime,
		CreatedAt: time.Now(),
	}
	if len(e.RawPayload) > 0 {
		row.RawPayload = datatypes.JSONMap(e.RawPayload)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	e.ID = row.ID
	return nil
}

func (r *ParkingRepository) ListEvents(ctx context.Context, limit int) ([]parking.ConfirmedEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []eventRow
	err := r.db.WithContext(ctx).
		Order("event_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]parking.ConfirmedEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, parking.ConfirmedEvent{
			ID:         row.ID,
			Plate:      row.Plate,
			CameraID:   row.CameraID,
			Type:       parking.EventType(row.EventType),
			EventTime:  row.EventTime,
			RawPayload: map[string]interface{}(row.RawPayload),
		})
	}
	return out, nil
}
