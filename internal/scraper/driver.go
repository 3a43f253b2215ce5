// Package scraper реализует проверку оплаты через веб-интерфейс провайдера без API:
// вход в кабинет, выгрузку истории операций и поиск в ней кода платежа.
package scraper

import "context"

// Driver управляет браузерной сессией. Селекторы и адреса страниц скрыты в реализации.
type Driver interface {
	// Open запускает браузер, файлы выгрузки сохраняются в downloadDir.
	Open(ctx context.Context, downloadDir string) error
	Login(ctx context.Context) error
	OpenHistory(ctx context.Context) error
	// Export запрашивает выгрузку истории и ждёт окончания загрузки файла.
	Export(ctx context.Context) error
	Close() error
}
