package store

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mac TEXT NOT NULL,
	date TEXT NOT NULL,
	node INTEGER,
	templ REAL,
	humid REAL,
	batt REAL,
	rssi INTEGER,
	ext INTEGER,
	light REAL,
	status INTEGER
);
CREATE INDEX IF NOT EXISTS idx_history_mac_date ON history(mac, date);

CREATE TABLE IF NOT EXISTS latest (
	mac TEXT NOT NULL PRIMARY KEY,
	date TEXT NOT NULL,
	node INTEGER,
	templ REAL,
	humid REAL,
	batt REAL,
	rssi INTEGER,
	ext INTEGER,
	light REAL,
	status INTEGER
);

CREATE TABLE IF NOT EXISTS notify (
	mac TEXT NOT NULL PRIMARY KEY,
	date TEXT,
	lost_date TEXT,
	status INTEGER NOT NULL,
	notify INTEGER,
	count INTEGER,
	node INTEGER
);

CREATE TABLE IF NOT EXISTS status (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stat INTEGER
);

CREATE TABLE IF NOT EXISTS conf (
	mac TEXT NOT NULL PRIMARY KEY,
	name TEXT,
	node TEXT,
	use BOOLEAN,
	warn TEXT,
	ambient_conf TEXT,
	discord_token TEXT,
	memo TEXT
);

CREATE TABLE IF NOT EXISTS conf_date (
	id INTEGER PRIMARY KEY,
	date TEXT NOT NULL
);
`

const dropAll = `
DROP TABLE IF EXISTS history;
DROP TABLE IF EXISTS notify;
DROP TABLE IF EXISTS latest;
DROP TABLE IF EXISTS status;
DROP TABLE IF EXISTS conf;
DROP TABLE IF EXISTS conf_date;
`
