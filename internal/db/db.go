// Package db is the asynchronous persistence service. Operations are
// serialized onto a single worker goroutine over one SQLite connection;
// results come back as callbacks posted to the server event loop, so callers
// never block and never touch the store concurrently.
package db

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Default per-operation deadline. Notification draining at login passes a
// tighter one.
const defaultTimeout = 5 * time.Second

var (
	// ErrNoSuchUser is returned by PasswordCorrect for an unknown nick.
	ErrNoSuchUser = errors.New("no such user")

	// ErrExists is returned when an insert hits a uniqueness constraint.
	ErrExists = errors.New("already exists")
)

// Notification is one pending message for an offline user.
type Notification struct {
	Author  string
	Content string
}

// Metrics receives a counter bump per store call. May be nil.
type Metrics interface {
	DBCall(op string)
}

// Service wraps the store. Construct with Open; release with Close.
type Service struct {
	db      *sql.DB
	jobs    chan func()
	post    func(func())
	log     zerolog.Logger
	metrics Metrics
	wg      sync.WaitGroup
}

// Open opens (or creates) the SQLite database at path, bootstraps the
// schema, and starts the worker. Completed operations invoke their callback
// through post, which must run the closure on the server event loop.
func Open(path string, post func(func()), log zerolog.Logger, metrics Metrics) (*Service, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}

	// One connection, kept alive: the worker is the sole writer and the
	// in-memory database in tests must not be dropped between calls.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(0)

	s := &Service{
		db:      sqlDB,
		jobs:    make(chan func(), 256),
		post:    post,
		log:     log,
		metrics: metrics,
	}

	if err := s.createTables(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.worker()

	return s, nil
}

// Close drains outstanding jobs and closes the store.
func (s *Service) Close() error {
	close(s.jobs)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Service) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	for _, q := range []string{
		createTableUser,
		createTableChannel,
		createTableIsMember,
		createTableNotification,
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "error creating tables")
		}
	}
	return nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		job()
	}
}

// submit queues one operation on the worker.
func (s *Service) submit(op string, timeout time.Duration, job func(ctx context.Context) error) {
	if s.metrics != nil {
		s.metrics.DBCall(op)
	}
	s.jobs <- func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := job(ctx); err != nil {
			s.log.Error().Err(err).Str("op", op).Msg("db: call failure")
		} else {
			s.log.Debug().Str("op", op).Msg("db: call successful")
		}
	}
}

// deliver posts cb to the event loop. cb may be nil for fire-and-forget
// operations.
func (s *Service) deliver(cb func()) {
	if cb != nil {
		s.post(cb)
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// AccountAvailable reports whether nick and mail are each unused.
func (s *Service) AccountAvailable(nick, mail string, cb func(nickFree, mailFree bool, err error)) {
	s.submit("account_available", defaultTimeout, func(ctx context.Context) error {
		nickFree, err := s.rowAbsent(ctx, selectNick, nick)
		if err != nil {
			s.deliver(func() { cb(false, false, err) })
			return err
		}
		mailFree, err := s.rowAbsent(ctx, selectMail, mail)
		if err != nil {
			s.deliver(func() { cb(false, false, err) })
			return err
		}
		s.deliver(func() { cb(nickFree, mailFree, nil) })
		return nil
	})
}

func (s *Service) rowAbsent(ctx context.Context, query, arg string) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&v)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "error querying row")
	}
	return false, nil
}

// UsersRegistered returns the subset of nicks that exist.
func (s *Service) UsersRegistered(nicks []string, cb func([]string, error)) {
	if len(nicks) == 0 {
		s.deliver(func() { cb(nil, nil) })
		return
	}

	args := make([]interface{}, len(nicks))
	for i, n := range nicks {
		args[i] = n
	}

	s.submit("users_registered", defaultTimeout, func(ctx context.Context) error {
		registered, err := s.queryStrings(ctx, selectNicks(len(nicks)), args...)
		if err != nil {
			s.deliver(func() { cb(nil, err) })
			return err
		}
		s.deliver(func() { cb(registered, nil) })
		return nil
	})
}

func (s *Service) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error querying")
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "error iterating rows")
}

// AddUser creates an account. A duplicate nick or mail yields ErrExists.
func (s *Service) AddUser(nick, mail, password string, cb func(error)) {
	s.submit("add_user", defaultTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, insertUser, nick, mail, password)
		if isUniqueViolation(err) {
			err = ErrExists
		}
		s.deliver(func() { cb(err) })
		return err
	})
}

// DeleteUser removes an account. Memberships, owned channels and pending
// notifications cascade.
func (s *Service) DeleteUser(nick string, cb func(error)) {
	s.submit("delete_user", defaultTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, deleteUser, nick)
		s.deliver(func() { cb(err) })
		return err
	})
}

// PasswordCorrect checks the stored password. An unknown nick is an
// integrity error (ErrNoSuchUser), not "false".
func (s *Service) PasswordCorrect(nick, password string, cb func(bool, error)) {
	s.submit("password_correct", defaultTimeout, func(ctx context.Context) error {
		var stored string
		err := s.db.QueryRowContext(ctx, selectPassword, nick).Scan(&stored)
		if err == sql.ErrNoRows {
			err = ErrNoSuchUser
		}
		if err != nil {
			s.deliver(func() { cb(false, err) })
			return err
		}
		s.deliver(func() { cb(stored == password, nil) })
		return nil
	})
}

// ChannelExists reports whether a channel record exists.
func (s *Service) ChannelExists(name string, cb func(bool, error)) {
	s.submit("channel_exists", defaultTimeout, func(ctx context.Context) error {
		absent, err := s.rowAbsent(ctx, selectChannel, name)
		if err != nil {
			s.deliver(func() { cb(false, err) })
			return err
		}
		s.deliver(func() { cb(!absent, nil) })
		return nil
	})
}

// GetChannelMode returns "pub", "priv", or "" when the channel is unknown.
func (s *Service) GetChannelMode(name string, cb func(string, error)) {
	s.submit("get_channel_mode", defaultTimeout, func(ctx context.Context) error {
		var public int
		err := s.db.QueryRowContext(ctx, selectMode, name).Scan(&public)
		if err == sql.ErrNoRows {
			s.deliver(func() { cb("", nil) })
			return nil
		}
		if err != nil {
			s.deliver(func() { cb("", err) })
			return err
		}
		mode := "priv"
		if public == 1 {
			mode = "pub"
		}
		s.deliver(func() { cb(mode, nil) })
		return nil
	})
}

// GetChannelCreator returns the creator nick, or "" when the channel is
// unknown.
func (s *Service) GetChannelCreator(name string, cb func(string, error)) {
	s.submit("get_channel_creator", defaultTimeout, func(ctx context.Context) error {
		var creator string
		err := s.db.QueryRowContext(ctx, selectCreator, name).Scan(&creator)
		if err == sql.ErrNoRows {
			s.deliver(func() { cb("", nil) })
			return nil
		}
		if err != nil {
			s.deliver(func() { cb("", err) })
			return err
		}
		s.deliver(func() { cb(creator, nil) })
		return nil
	})
}

// AddChannel creates a channel record and, for a private channel, its
// member rows, in one transaction. A duplicate name yields ErrExists.
func (s *Service) AddChannel(name, creator string, public bool, nicks []string, cb func(error)) {
	s.submit("add_channel", defaultTimeout, func(ctx context.Context) error {
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			publicInt := 0
			if public {
				publicInt = 1
			}
			if _, err := tx.ExecContext(ctx, insertChannel, name, creator, publicInt); err != nil {
				return err
			}
			if !public {
				for _, nick := range nicks {
					if _, err := tx.ExecContext(ctx, insertMember, nick, name); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if isUniqueViolation(err) {
			err = ErrExists
		}
		s.deliver(func() { cb(err) })
		return err
	})
}

// DeleteChannel removes a channel record. Member rows cascade.
func (s *Service) DeleteChannel(name string, cb func(error)) {
	s.submit("delete_channel", defaultTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, deleteChannel, name)
		s.deliver(func() { cb(err) })
		return err
	})
}

func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error starting transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "error committing")
}

// AddMembers inserts membership rows for nicks in one transaction.
func (s *Service) AddMembers(channel string, nicks []string, cb func(error)) {
	s.submit("add_members", defaultTimeout, func(ctx context.Context) error {
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, nick := range nicks {
				if _, err := tx.ExecContext(ctx, insertMember, nick, channel); err != nil {
					if isUniqueViolation(err) {
						// Already a member; batch continues.
						continue
					}
					return err
				}
			}
			return nil
		})
		s.deliver(func() { cb(err) })
		return err
	})
}

// DeleteMembers removes membership rows for nicks in one transaction.
func (s *Service) DeleteMembers(channel string, nicks []string, cb func(error)) {
	s.submit("delete_members", defaultTimeout, func(ctx context.Context) error {
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, nick := range nicks {
				if _, err := tx.ExecContext(ctx, deleteMember, nick, channel); err != nil {
					return err
				}
			}
			return nil
		})
		s.deliver(func() { cb(err) })
		return err
	})
}

// IsMember reports whether nick has a membership row for channel.
func (s *Service) IsMember(nick, channel string, cb func(bool, error)) {
	s.submit("is_member", defaultTimeout, func(ctx context.Context) error {
		var id int64
		err := s.db.QueryRowContext(ctx, selectIsMember, nick, channel).Scan(&id)
		if err == sql.ErrNoRows {
			s.deliver(func() { cb(false, nil) })
			return nil
		}
		if err != nil {
			s.deliver(func() { cb(false, err) })
			return err
		}
		s.deliver(func() { cb(true, nil) })
		return nil
	})
}

// GetMembers returns the nicks with membership rows for channel.
func (s *Service) GetMembers(channel string, cb func([]string, error)) {
	s.submit("get_members", defaultTimeout, func(ctx context.Context) error {
		members, err := s.queryStrings(ctx, selectMembers, channel)
		if err != nil {
			s.deliver(func() { cb(nil, err) })
			return err
		}
		s.deliver(func() { cb(members, nil) })
		return nil
	})
}

// GetPubChannels returns the names of all public channels.
func (s *Service) GetPubChannels(cb func([]string, error)) {
	s.submit("get_pub_channels", defaultTimeout, func(ctx context.Context) error {
		channels, err := s.queryStrings(ctx, selectPubChannels)
		if err != nil {
			s.deliver(func() { cb(nil, err) })
			return err
		}
		s.deliver(func() { cb(channels, nil) })
		return nil
	})
}

// GetPrivChannels returns the names of private channels nick belongs to.
func (s *Service) GetPrivChannels(nick string, cb func([]string, error)) {
	s.submit("get_priv_channels", defaultTimeout, func(ctx context.Context) error {
		channels, err := s.queryStrings(ctx, selectPrivChannels, nick)
		if err != nil {
			s.deliver(func() { cb(nil, err) })
			return err
		}
		s.deliver(func() { cb(channels, nil) })
		return nil
	})
}

// AddNotification persists a pending notification for an offline target.
// cb may be nil.
func (s *Service) AddNotification(author, target, content string, cb func(error)) {
	s.submit("add_notification", defaultTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, insertNotification, author, target, content)
		if cb != nil {
			s.deliver(func() { cb(err) })
		}
		return err
	})
}

// GetNotifications returns the pending notifications for user, observing
// the caller's timeout.
func (s *Service) GetNotifications(user string, timeout time.Duration, cb func([]Notification, error)) {
	s.submit("get_notifications", timeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, selectNotifications, user)
		if err != nil {
			err = errors.Wrap(err, "error querying notifications")
			s.deliver(func() { cb(nil, err) })
			return err
		}
		defer func() { _ = rows.Close() }()

		var notifications []Notification
		for rows.Next() {
			var n Notification
			if err := rows.Scan(&n.Author, &n.Content); err != nil {
				err = errors.Wrap(err, "error scanning notification")
				s.deliver(func() { cb(nil, err) })
				return err
			}
			notifications = append(notifications, n)
		}
		if err := rows.Err(); err != nil {
			s.deliver(func() { cb(nil, err) })
			return err
		}
		s.deliver(func() { cb(notifications, nil) })
		return nil
	})
}

// DeleteNotifications drops the pending notifications for user, observing
// the caller's timeout. cb may be nil.
func (s *Service) DeleteNotifications(user string, timeout time.Duration, cb func(error)) {
	s.submit("delete_notifications", timeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, deleteNotifications, user)
		if cb != nil {
			s.deliver(func() { cb(err) })
		}
		return err
	})
}
