/*
包 migration 管理记账库（usage_records）的版本化 Schema 迁移，
基于 golang-migrate 实现，支持 PostgreSQL、MySQL 与 SQLite。

各方言的 SQL 迁移文件通过 embed.FS 内嵌在二进制中。DefaultMigrator
实现 Migrator 接口（Up/Down/DownAll/Goto/Force/Version/Status/
Info/Close）；SchemaConsole 为 `fogbow-manager migrate` 子命令报告
usage_records 的迁移版本与状态；
NewMigratorFromDatabaseConfig 直接从应用的 database 配置段创建迁移器。
serve 在 database.auto_migrate 打开时启动前执行 Up。
*/
package migration
