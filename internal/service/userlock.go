package service

import "sync"

// userLocks выдаёт мьютекс на каждого пользователя. Последовательности
// чтение-изменение-запись по одному пользователю сериализуются целиком,
// включая внешние сетевые вызовы внутри операции; операции по разным
// пользователям идут параллельно. Карта хранит по одному мьютексу на каждого
// когда-либо затронутого пользователя; записи не освобождаются, память растёт
// с числом пользователей процесса.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *userLocks) forUser(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}
