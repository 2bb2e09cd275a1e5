package cache

import (
	"encoding/json"

	"git.sr.ht/~rockorager/go-jmap"
)

// The session is stored as the JSON document the server sent so that
// capability objects decode through go-jmap's own unmarshaller.

func (c *JMAPCache) GetSession() (*jmap.Session, error) {
	buf, err := c.get(sessionKey)
	if err != nil {
		return nil, err
	}
	s := new(jmap.Session)
	if err := json.Unmarshal(buf, s); err != nil {
		_ = c.DeleteSession()
		return nil, err
	}
	return s, nil
}

func (c *JMAPCache) PutSession(s *jmap.Session) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.put(sessionKey, buf)
}

func (c *JMAPCache) DeleteSession() error {
	return c.delete(sessionKey)
}

const sessionKey = "session"
