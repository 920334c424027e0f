package db

// Table creation. Foreign keys are enforced per connection via the DSN
// pragma; see Open.
const (
	createTableUser = `CREATE TABLE IF NOT EXISTS user (
user_id INTEGER PRIMARY KEY,
nick TEXT UNIQUE NOT NULL,
mail TEXT UNIQUE NOT NULL,
password TEXT NOT NULL)`

	createTableChannel = `CREATE TABLE IF NOT EXISTS channel (
channel_id INTEGER PRIMARY KEY,
name TEXT UNIQUE NOT NULL,
creator TEXT NOT NULL,
public INTEGER NOT NULL,
CONSTRAINT fk_users FOREIGN KEY (creator) REFERENCES user (nick) ON DELETE CASCADE,
CHECK (public IN (0, 1)))`

	createTableIsMember = `CREATE TABLE IF NOT EXISTS is_member (
id INTEGER PRIMARY KEY,
user TEXT NOT NULL,
channel TEXT NOT NULL,
CONSTRAINT fk_users FOREIGN KEY (user) REFERENCES user (nick) ON DELETE CASCADE,
CONSTRAINT fk_channels FOREIGN KEY (channel) REFERENCES channel (name) ON DELETE CASCADE,
UNIQUE (user, channel))`

	createTableNotification = `CREATE TABLE IF NOT EXISTS notification (
notif_id INTEGER PRIMARY KEY,
author TEXT NOT NULL,
target TEXT NOT NULL,
content TEXT NOT NULL,
CONSTRAINT fk_author FOREIGN KEY (author) REFERENCES user (nick),
CONSTRAINT fk_target FOREIGN KEY (target) REFERENCES user (nick) ON DELETE CASCADE)`
)

// Lookups.
const (
	selectNick     = `SELECT nick FROM user WHERE nick = ?`
	selectMail     = `SELECT mail FROM user WHERE mail = ?`
	selectPassword = `SELECT password FROM user WHERE nick = ?`

	selectChannel = `SELECT name FROM channel WHERE name = ?`
	selectCreator = `SELECT creator FROM channel WHERE name = ?`
	selectMode    = `SELECT public FROM channel WHERE name = ?`

	selectPubChannels  = `SELECT name FROM channel WHERE public = 1`
	selectPrivChannels = `SELECT DISTINCT channel FROM is_member WHERE user = ?`

	selectIsMember = `SELECT id FROM is_member WHERE user = ? AND channel = ?`
	selectMembers  = `SELECT user FROM is_member WHERE channel = ?`

	selectNotifications = `SELECT author, content FROM notification WHERE target = ?`
)

// Insertion.
const (
	insertUser         = `INSERT INTO user(nick, mail, password) VALUES (?, ?, ?)`
	insertChannel      = `INSERT INTO channel(name, creator, public) VALUES (?, ?, ?)`
	insertMember       = `INSERT INTO is_member(user, channel) VALUES (?, ?)`
	insertNotification = `INSERT INTO notification(author, target, content) VALUES (?, ?, ?)`
)

// Deletion.
const (
	deleteUser          = `DELETE FROM user WHERE nick = ?`
	deleteChannel       = `DELETE FROM channel WHERE name = ?`
	deleteMember        = `DELETE FROM is_member WHERE user = ? AND channel = ?`
	deleteNotifications = `DELETE FROM notification WHERE target = ?`
)

// selectNicks builds the registered-nicks lookup for count placeholders.
func selectNicks(count int) string {
	q := `SELECT DISTINCT nick FROM user WHERE nick IN (?`
	for i := 1; i < count; i++ {
		q += `, ?`
	}
	return q + `)`
}
