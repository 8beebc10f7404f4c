package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "BloodBank-Chain/internal/errors"
	"BloodBank-Chain/internal/records"
)

// RecordStore 使用 MySQL 持久化链下记录。
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore 建立连接池并执行嵌入的迁移。
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败")
	}
	return &RecordStore{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *RecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const (
	insertUserSQL = `INSERT INTO users (id, address, name, email, role, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`
	selectUserSQL = `SELECT id, address, name, email, role, created_at, updated_at FROM users`
	updateUserSQL = `UPDATE users SET name = COALESCE(?, name), email = COALESCE(?, email), role = COALESCE(?, role),
    updated_at = ? WHERE address = ?`

	insertDonationSQL = `INSERT INTO donations
    (id, transaction_hash, donor_address, blood_type, quantity, donor_name, age, contact, status, submitted_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectDonationSQL = `SELECT d.id, d.transaction_hash, d.donor_address, d.blood_type, d.quantity, d.donor_name, d.age, d.contact,
    d.status, d.submitted_at, d.updated_at,
    u.id, u.address, u.name, u.email, u.role, u.created_at, u.updated_at
    FROM donations d LEFT JOIN users u ON u.address = d.donor_address`
	updateDonationSQL = `UPDATE donations SET status = ?, updated_at = ? WHERE id = ?`
	deleteDonationSQL = `DELETE FROM donations WHERE id = ?`

	insertInventorySQL = `INSERT INTO inventory
    (id, blood_type, quantity, donation_id, request_id, status, expiry_date, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectInventorySQL = `SELECT id, blood_type, quantity, donation_id, request_id, status, expiry_date, created_at, updated_at
    FROM inventory`
	updateInventorySQL = `UPDATE inventory SET status = ?, request_id = ?, updated_at = ? WHERE id = ?`
	purgeInventorySQL  = `DELETE FROM inventory WHERE expiry_date < ?`

	insertRequestSQL = `INSERT INTO blood_requests
    (id, transaction_hash, requester_address, blood_type, quantity, recipient_name, age, contact, hospital, reason, status,
    submitted_at, updated_at, fulfilled_by, fulfilled_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRequestSQL = `SELECT r.id, r.transaction_hash, r.requester_address, r.blood_type, r.quantity, r.recipient_name, r.age,
    r.contact, r.hospital, r.reason, r.status, r.submitted_at, r.updated_at, r.fulfilled_by, r.fulfilled_at,
    u.id, u.address, u.name, u.email, u.role, u.created_at, u.updated_at
    FROM blood_requests r LEFT JOIN users u ON u.address = r.requester_address`
	updateRequestSQL = `UPDATE blood_requests SET status = ?, fulfilled_by = ?, fulfilled_at = ?, updated_at = ? WHERE id = ?`
	deleteRequestSQL = `DELETE FROM blood_requests WHERE id = ?`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func storageError(err error, message string) error {
	if isDuplicate(err) {
		return records.ErrConflict
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}

// joinedUser 接收 LEFT JOIN 出来的可空用户列。
type joinedUser struct {
	id, address, name, email, role sql.NullString
	createdAt, updatedAt           sql.NullInt64
}

func (j *joinedUser) dest() []any {
	return []any{&j.id, &j.address, &j.name, &j.email, &j.role, &j.createdAt, &j.updatedAt}
}

func (j *joinedUser) user() *records.User {
	if !j.id.Valid {
		return nil
	}
	return &records.User{
		ID:        j.id.String,
		Address:   j.address.String,
		Name:      j.name.String,
		Email:     j.email.String,
		Role:      records.Role(j.role.String),
		CreatedAt: fromMillis(j.createdAt.Int64),
		UpdatedAt: fromMillis(j.updatedAt.Int64),
	}
}

func scanUser(row rowScanner) (*records.User, error) {
	var user records.User
	var role string
	var createdAt, updatedAt int64
	if err := row.Scan(&user.ID, &user.Address, &user.Name, &user.Email, &role, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.Role = records.Role(role)
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}

// CreateUser 实现 records.Store。
func (s *RecordStore) CreateUser(ctx context.Context, user *records.User) error {
	if _, err := s.db.ExecContext(ctx, insertUserSQL,
		user.ID, user.Address, user.Name, user.Email, string(user.Role), millis(user.CreatedAt), millis(user.UpdatedAt),
	); err != nil {
		return storageError(err, "写入用户失败")
	}
	return nil
}

// GetUserByAddress 实现 records.Store。
func (s *RecordStore) GetUserByAddress(ctx context.Context, address string) (*records.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, selectUserSQL+" WHERE address = ?", address))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, records.ErrNotFound
		}
		return nil, storageError(err, "查询用户失败")
	}
	return user, nil
}

// ListUsers 实现 records.Store。
func (s *RecordStore) ListUsers(ctx context.Context) ([]*records.User, error) {
	rows, err := s.db.QueryContext(ctx, selectUserSQL+" ORDER BY created_at ASC, address ASC")
	if err != nil {
		return nil, storageError(err, "查询用户列表失败")
	}
	defer rows.Close()

	users := make([]*records.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storageError(err, "解析用户失败")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历用户失败")
	}
	return users, nil
}

// UpdateUser 实现 records.Store。
func (s *RecordStore) UpdateUser(ctx context.Context, address string, changes records.UserChanges, at time.Time) (*records.User, error) {
	var role *string
	if changes.Role != nil {
		r := string(*changes.Role)
		role = &r
	}
	if _, err := s.db.ExecContext(ctx, updateUserSQL,
		nullString(changes.Name), nullString(changes.Email), nullString(role), millis(at), address,
	); err != nil {
		return nil, storageError(err, "更新用户失败")
	}
	return s.GetUserByAddress(ctx, address)
}

func scanDonation(row rowScanner) (*records.Donation, error) {
	var d records.Donation
	var status string
	var submittedAt, updatedAt int64
	var joined joinedUser
	dest := []any{&d.ID, &d.TransactionHash, &d.DonorAddress, &d.BloodType, &d.Quantity, &d.DonorName, &d.Age, &d.Contact,
		&status, &submittedAt, &updatedAt}
	if err := row.Scan(append(dest, joined.dest()...)...); err != nil {
		return nil, err
	}
	d.Status = records.DonationStatus(status)
	d.Timestamp = fromMillis(submittedAt)
	d.UpdatedAt = fromMillis(updatedAt)
	d.Donor = joined.user()
	return &d, nil
}

// CreateDonation 实现 records.Store。
func (s *RecordStore) CreateDonation(ctx context.Context, d *records.Donation) error {
	if _, err := s.db.ExecContext(ctx, insertDonationSQL,
		d.ID, d.TransactionHash, d.DonorAddress, d.BloodType, d.Quantity, d.DonorName, d.Age, d.Contact,
		string(d.Status), millis(d.Timestamp), millis(d.UpdatedAt),
	); err != nil {
		return storageError(err, "写入捐献记录失败")
	}
	return nil
}

func filterClause(prefix, addressColumn string, filter records.ListFilter) (string, []any) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.Address != "" {
		conditions = append(conditions, prefix+"."+addressColumn+" = ?")
		args = append(args, filter.Address)
	}
	if filter.Status != "" {
		conditions = append(conditions, prefix+".status = ?")
		args = append(args, filter.Status)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListDonations 实现 records.Store。
func (s *RecordStore) ListDonations(ctx context.Context, filter records.ListFilter) ([]*records.Donation, error) {
	clause, args := filterClause("d", "donor_address", filter)
	rows, err := s.db.QueryContext(ctx, selectDonationSQL+clause+" ORDER BY d.submitted_at DESC, d.id DESC", args...)
	if err != nil {
		return nil, storageError(err, "查询捐献记录失败")
	}
	defer rows.Close()

	donations := make([]*records.Donation, 0)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, storageError(err, "解析捐献记录失败")
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历捐献记录失败")
	}
	return donations, nil
}

func (s *RecordStore) getDonation(ctx context.Context, id string) (*records.Donation, error) {
	d, err := scanDonation(s.db.QueryRowContext(ctx, selectDonationSQL+" WHERE d.id = ?", id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, records.ErrNotFound
		}
		return nil, storageError(err, "查询捐献记录失败")
	}
	return d, nil
}

// UpdateDonationStatus 实现 records.Store。
func (s *RecordStore) UpdateDonationStatus(ctx context.Context, id string, status records.DonationStatus, at time.Time) (*records.Donation, error) {
	if _, err := s.db.ExecContext(ctx, updateDonationSQL, string(status), millis(at), id); err != nil {
		return nil, storageError(err, "更新捐献记录失败")
	}
	return s.getDonation(ctx, id)
}

// DeleteDonation 实现 records.Store。
func (s *RecordStore) DeleteDonation(ctx context.Context, id string) error {
	return s.deleteByID(ctx, deleteDonationSQL, id, "删除捐献记录失败")
}

func (s *RecordStore) deleteByID(ctx context.Context, stmt, id, message string) error {
	res, err := s.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return storageError(err, message)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return records.ErrNotFound
	}
	return nil
}

func scanInventory(row rowScanner) (*records.InventoryItem, error) {
	var it records.InventoryItem
	var donationID, requestID sql.NullString
	var status string
	var expiry, createdAt, updatedAt int64
	if err := row.Scan(&it.ID, &it.BloodType, &it.Quantity, &donationID, &requestID, &status, &expiry, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	it.DonationID = stringPtr(donationID)
	it.RequestID = stringPtr(requestID)
	it.Status = records.InventoryStatus(status)
	it.ExpiryDate = fromMillis(expiry)
	it.CreatedAt = fromMillis(createdAt)
	it.UpdatedAt = fromMillis(updatedAt)
	return &it, nil
}

// CreateInventoryItem 实现 records.Store。
func (s *RecordStore) CreateInventoryItem(ctx context.Context, it *records.InventoryItem) error {
	if _, err := s.db.ExecContext(ctx, insertInventorySQL,
		it.ID, it.BloodType, it.Quantity, nullString(it.DonationID), nullString(it.RequestID), string(it.Status),
		millis(it.ExpiryDate), millis(it.CreatedAt), millis(it.UpdatedAt),
	); err != nil {
		return storageError(err, "写入库存失败")
	}
	return nil
}

// ListInventory 实现 records.Store。
func (s *RecordStore) ListInventory(ctx context.Context) ([]*records.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, selectInventorySQL+" ORDER BY blood_type ASC, created_at ASC")
	if err != nil {
		return nil, storageError(err, "查询库存失败")
	}
	defer rows.Close()

	items := make([]*records.InventoryItem, 0)
	for rows.Next() {
		it, err := scanInventory(rows)
		if err != nil {
			return nil, storageError(err, "解析库存失败")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历库存失败")
	}
	return items, nil
}

// UpdateInventoryItem 实现 records.Store。
func (s *RecordStore) UpdateInventoryItem(ctx context.Context, id string, status records.InventoryStatus, requestID *string, at time.Time) (*records.InventoryItem, error) {
	if _, err := s.db.ExecContext(ctx, updateInventorySQL, string(status), nullString(requestID), millis(at), id); err != nil {
		return nil, storageError(err, "更新库存失败")
	}
	it, err := scanInventory(s.db.QueryRowContext(ctx, selectInventorySQL+" WHERE id = ?", id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, records.ErrNotFound
		}
		return nil, storageError(err, "查询库存失败")
	}
	return it, nil
}

// DeleteExpiredInventory 实现 records.Store。
func (s *RecordStore) DeleteExpiredInventory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeInventorySQL, millis(before))
	if err != nil {
		return 0, storageError(err, "清理过期库存失败")
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err, "获取影响行数失败")
	}
	return deleted, nil
}

func scanRequest(row rowScanner) (*records.BloodRequest, error) {
	var r records.BloodRequest
	var status string
	var submittedAt, updatedAt int64
	var fulfilledBy sql.NullString
	var fulfilledAt sql.NullInt64
	var joined joinedUser
	dest := []any{&r.ID, &r.TransactionHash, &r.RequesterAddress, &r.BloodType, &r.Quantity, &r.RecipientName, &r.Age,
		&r.Contact, &r.Hospital, &r.Reason, &status, &submittedAt, &updatedAt, &fulfilledBy, &fulfilledAt}
	if err := row.Scan(append(dest, joined.dest()...)...); err != nil {
		return nil, err
	}
	r.Status = records.RequestStatus(status)
	r.Timestamp = fromMillis(submittedAt)
	r.UpdatedAt = fromMillis(updatedAt)
	r.FulfilledBy = stringPtr(fulfilledBy)
	if fulfilledAt.Valid {
		t := fromMillis(fulfilledAt.Int64)
		r.FulfilledAt = &t
	}
	r.Requester = joined.user()
	return &r, nil
}

// CreateRequest 实现 records.Store。
func (s *RecordStore) CreateRequest(ctx context.Context, r *records.BloodRequest) error {
	if _, err := s.db.ExecContext(ctx, insertRequestSQL,
		r.ID, r.TransactionHash, r.RequesterAddress, r.BloodType, r.Quantity, r.RecipientName, r.Age, r.Contact,
		r.Hospital, r.Reason, string(r.Status), millis(r.Timestamp), millis(r.UpdatedAt),
		nullString(r.FulfilledBy), nullMillis(r.FulfilledAt),
	); err != nil {
		return storageError(err, "写入用血申请失败")
	}
	return nil
}

// ListRequests 实现 records.Store。
func (s *RecordStore) ListRequests(ctx context.Context, filter records.ListFilter) ([]*records.BloodRequest, error) {
	clause, args := filterClause("r", "requester_address", filter)
	rows, err := s.db.QueryContext(ctx, selectRequestSQL+clause+" ORDER BY r.submitted_at DESC, r.id DESC", args...)
	if err != nil {
		return nil, storageError(err, "查询用血申请失败")
	}
	defer rows.Close()

	requests := make([]*records.BloodRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, storageError(err, "解析用血申请失败")
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历用血申请失败")
	}
	return requests, nil
}

// UpdateRequest 实现 records.Store。
func (s *RecordStore) UpdateRequest(ctx context.Context, id string, changes records.RequestChanges) (*records.BloodRequest, error) {
	if _, err := s.db.ExecContext(ctx, updateRequestSQL,
		string(changes.Status), nullString(changes.FulfilledBy), nullMillis(changes.FulfilledAt), millis(changes.UpdatedAt), id,
	); err != nil {
		return nil, storageError(err, "更新用血申请失败")
	}
	r, err := scanRequest(s.db.QueryRowContext(ctx, selectRequestSQL+" WHERE r.id = ?", id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, records.ErrNotFound
		}
		return nil, storageError(err, "查询用血申请失败")
	}
	return r, nil
}

// DeleteRequest 实现 records.Store。
func (s *RecordStore) DeleteRequest(ctx context.Context, id string) error {
	return s.deleteByID(ctx, deleteRequestSQL, id, "删除用血申请失败")
}

var _ records.Store = (*RecordStore)(nil)
