package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nfvorch/vimworker/internal/database"
)

// Cursor is the pagination key used by the action loader: the
// (item_id, item, created_at) triple of the last row of the previous page.
type Cursor struct {
	ItemID    string
	Item      ItemKind
	CreatedAt time.Time
}

// ItemState is the VIM-visible state of a logical object, written back to
// its own instance_<item> table independently of the action row.
type ItemState struct {
	ItemID   string
	VIMID    string
	SDNNetID string
	Status   string
	ErrorMsg string
	VIMInfo  string
	Created  bool
}

// Store is the persistence port the worker, resolver and executor use to
// read and write actions and per-item VIM state. It is a thin wrapper over
// DatabaseInterface so it can be exercised against MockDatabase in tests.
type Store struct {
	db database.DatabaseInterface
}

// NewStore builds a Store over any DatabaseInterface implementation.
func NewStore(db database.DatabaseInterface) *Store {
	return &Store{db: db}
}

// LoadPage reads up to limit rows for one VIM tenant, ordered by
// (item_id, item, created_at), strictly after the given cursor. A nil
// cursor reads from the beginning. Because the comparison is a strict
// row-value ">" rather than the skip-first-duplicate convention of the
// system this engine is modeled on, pagination is exact: no caller-side
// de-duplication of the boundary row is required.
func (s *Store) LoadPage(ctx context.Context, datacenterVIMID string, after *Cursor, limit int) ([]*Task, error) {
	query := `
		SELECT instance_action_id, task_index, datacenter_vim_id, item, item_id,
		       action, status, vim_id, extra, error_msg, created_at, modified_at
		FROM vim_wim_actions
		WHERE datacenter_vim_id = $1`
	args := []interface{}{datacenterVIMID}

	if after != nil {
		query += fmt.Sprintf(" AND (item_id, item, created_at) > ($%d, $%d, $%d)", len(args)+1, len(args)+2, len(args)+3)
		args = append(args, after.ItemID, string(after.Item), after.CreatedAt)
	}

	query += fmt.Sprintf(" ORDER BY item_id, item, created_at LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "LoadPage", Err: err}
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &StoreError{Op: "LoadPage", Err: err}
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "LoadPage", Err: err}
	}
	return tasks, nil
}

// GetTask fetches a single task by its primary key, used by the resolver's
// storage-fallback path when a dependency reference points outside the
// current batch.
func (s *Store) GetTask(ctx context.Context, instanceActionID string, taskIndex int) (*Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT instance_action_id, task_index, datacenter_vim_id, item, item_id,
		       action, status, vim_id, extra, error_msg, created_at, modified_at
		FROM vim_wim_actions
		WHERE instance_action_id = $1 AND task_index = $2
	`, instanceActionID, taskIndex)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Ref: RefByParentIndex(instanceActionID, taskIndex)}
		}
		return nil, &StoreError{Op: "GetTask", Err: err}
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(r scanner) (*Task, error) {
	var t Task
	var item, actionVerb, status, extra string
	if err := r.Scan(
		&t.InstanceActionID, &t.TaskIndex, &t.DatacenterVIMID, &item, &t.ItemID,
		&actionVerb, &status, &t.VIMID, &extra, &t.ErrorMsg, &t.CreatedAt, &t.ModifiedAt,
	); err != nil {
		return nil, err
	}

	t.Item = ItemKind(item)
	t.Action = Verb(actionVerb)
	t.Status = Status(status)

	decoded, err := UnmarshalExtra(extra)
	if err != nil {
		return nil, fmt.Errorf("decode extra for %s/%d: %w", t.InstanceActionID, t.TaskIndex, err)
	}
	t.Extra = decoded

	return &t, nil
}

// UpdateTask writes back a task's mutable fields: status, vim_id, extra and
// error_msg. created_at is never touched; modified_at is stamped by the
// database.
func (s *Store) UpdateTask(ctx context.Context, t *Task) error {
	extra, err := MarshalExtra(t.Extra)
	if err != nil {
		return &StoreError{Op: "UpdateTask", Err: err}
	}

	_, err = s.db.Exec(ctx, `
		UPDATE vim_wim_actions
		SET status = $1, vim_id = $2, extra = $3, error_msg = $4, modified_at = NOW()
		WHERE instance_action_id = $5 AND task_index = $6
	`, string(t.Status), t.VIMID, extra, TruncateErrorMessage(t.ErrorMsg), t.InstanceActionID, t.TaskIndex)
	if err != nil {
		return &StoreError{Op: "UpdateTask", Err: err}
	}
	return nil
}

// IncrementParentCounts atomically adjusts the parent instance_actions
// aggregate's number_done/number_failed counters.
func (s *Store) IncrementParentCounts(ctx context.Context, instanceActionID string, doneDelta, failedDelta int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE instance_actions
		SET number_done = number_done + $1, number_failed = number_failed + $2, modified_at = NOW()
		WHERE uuid = $3
	`, doneDelta, failedDelta, instanceActionID)
	if err != nil {
		return &StoreError{Op: "IncrementParentCounts", Err: err}
	}
	return nil
}

// UpsertVMState writes back a VM's VIM-visible state.
func (s *Store) UpsertVMState(ctx context.Context, st ItemState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO instance_vms (item_id, vim_vm_id, status, error_msg, vim_info, modified_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			vim_vm_id = EXCLUDED.vim_vm_id,
			status = EXCLUDED.status,
			error_msg = EXCLUDED.error_msg,
			vim_info = EXCLUDED.vim_info,
			modified_at = NOW()
	`, st.ItemID, st.VIMID, st.Status, st.ErrorMsg, st.VIMInfo)
	if err != nil {
		return &StoreError{Op: "UpsertVMState", Err: err}
	}
	return nil
}

// UpsertNetState writes back a network's VIM-visible state.
func (s *Store) UpsertNetState(ctx context.Context, st ItemState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO instance_nets (item_id, vim_net_id, sdn_net_id, status, error_msg, vim_info, created, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			vim_net_id = EXCLUDED.vim_net_id,
			sdn_net_id = EXCLUDED.sdn_net_id,
			status = EXCLUDED.status,
			error_msg = EXCLUDED.error_msg,
			vim_info = EXCLUDED.vim_info,
			created = EXCLUDED.created,
			modified_at = NOW()
	`, st.ItemID, st.VIMID, st.SDNNetID, st.Status, st.ErrorMsg, st.VIMInfo, st.Created)
	if err != nil {
		return &StoreError{Op: "UpsertNetState", Err: err}
	}
	return nil
}

// UpsertInterface writes back a single interface's observed state.
func (s *Store) UpsertInterface(ctx context.Context, iface InterfaceState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO instance_interfaces (item_id, net_id, vim_interface_id, mac_address, ip_address, vlan, pci, sdn_port_id, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			vim_interface_id = EXCLUDED.vim_interface_id,
			mac_address = EXCLUDED.mac_address,
			ip_address = EXCLUDED.ip_address,
			vlan = EXCLUDED.vlan,
			pci = EXCLUDED.pci,
			sdn_port_id = EXCLUDED.sdn_port_id,
			modified_at = NOW()
	`, iface.ItemID, iface.NetID, iface.VIMInterfaceID, iface.MACAddress, iface.IPAddress, iface.VLAN, iface.PCI, iface.SDNPortID)
	if err != nil {
		return &StoreError{Op: "UpsertInterface", Err: err}
	}
	return nil
}

// serviceFunctionTables maps the four service-function item kinds onto
// their table name and the VIM-id column name particular to that table.
var serviceFunctionTables = map[ItemKind][2]string{
	ItemSFI:            {"instance_sfis", "vim_sfi_id"},
	ItemSF:             {"instance_sfs", "vim_sf_id"},
	ItemClassification: {"instance_classifications", "vim_classification_id"},
	ItemSFP:            {"instance_sfps", "vim_sfp_id"},
}

// UpsertServiceFunctionState writes back the VIM-visible state for an SFI,
// SF, classification or SFP row. These four kinds share an identical
// shape; only the table and VIM-id column name vary.
func (s *Store) UpsertServiceFunctionState(ctx context.Context, item ItemKind, st ItemState) error {
	table, ok := serviceFunctionTables[item]
	if !ok {
		return &StoreError{Op: "UpsertServiceFunctionState", Err: fmt.Errorf("%s is not a service-function item kind", item)}
	}
	query := `INSERT INTO ` + table[0] + ` (item_id, ` + table[1] + `, status, error_msg) VALUES ($1, $2, $3, $4)` +
		` ON CONFLICT (item_id) DO UPDATE SET ` + table[1] + ` = EXCLUDED.` + table[1] +
		`, status = EXCLUDED.status, error_msg = EXCLUDED.error_msg`

	if _, err := s.db.Exec(ctx, query, st.ItemID, st.VIMID, st.Status, st.ErrorMsg); err != nil {
		return &StoreError{Op: "UpsertServiceFunctionState", Err: err}
	}
	return nil
}
